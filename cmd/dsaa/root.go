package main

import (
	"fmt"
	"go/types"
	"os"
	"regexp"
	"runtime/pprof"
	"strings"

	"github.com/BarrensZeppelin/dsaa/dsa"
	"github.com/BarrensZeppelin/dsaa/internal/slices"
	"github.com/BarrensZeppelin/dsaa/pkgutil"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

var (
	cfgFile string
	logger  = zap.NewNop()
	profile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "dsaa",
	Short: "Alias analysis backed by Data Structure Analysis",
	Long: `dsaa builds DSA graphs for the given packages and uses them to
answer alias queries between loads and stores.

Use "dsaa [command] packages..." to analyse packages.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if logger, err = newLogger(viper.GetString("log-level")); err != nil {
			return err
		}
		if viper.GetBool("no-colour") {
			color.NoColor = true
		}
		return startProfile(viper.GetString("cpuprofile"))
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		stopProfile()
		_ = logger.Sync()
	},
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dsaa.yaml)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.Bool("no-colour", false, "disable colour output")
	flags.String("cpuprofile", "", "write cpu profile to `file`")
	flags.String("dir", "", "alternative directory to run the go build tool in")
	flags.String("func", "", "only consider functions whose name matches `regexp`")
	flags.Bool("closed-world", true, "assume all callers of exported functions are analysed")
	flags.String("arch", "amd64", "architecture used for type sizes")

	for _, name := range []string{
		"log-level", "no-colour", "cpuprofile", "dir", "func", "closed-world", "arch",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".dsaa")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
	}
	viper.SetEnvPrefix("DSAA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	return l, errors.Wrap(err, "cannot create logger")
}

func startProfile(file string) error {
	if file == "" {
		return nil
	}

	f, err := os.Create(file)
	if err != nil {
		return errors.Wrap(err, "could not create CPU profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return errors.Wrap(err, "could not start CPU profile")
	}
	profile = f
	return nil
}

func stopProfile() {
	if profile == nil {
		return
	}
	pprof.StopCPUProfile()
	if err := profile.Close(); err != nil {
		logger.Error("failed to close CPU profile", zap.Error(err))
	}
	profile = nil
}

// analyse loads the packages matching args and runs DSA over their functions.
// The second result lists the analysed functions selected by --func.
func analyse(args []string) (*dsa.Result, []*ssa.Function, error) {
	if len(args) == 0 {
		return nil, nil, errors.New("specify a package query on the command line")
	}

	sizes := types.SizesFor("gc", viper.GetString("arch"))
	if sizes == nil {
		return nil, nil, errors.Errorf("unknown architecture %q", viper.GetString("arch"))
	}

	filter, err := regexp.Compile(viper.GetString("func"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid --func")
	}

	pkgs, err := pkgutil.LoadPackagesWithConfig(&packages.Config{
		Mode:  pkgutil.LoadMode,
		Tests: false,
		Dir:   viper.GetString("dir"),
	}, args...)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "loading packages failed")
	}
	logger.Info("loaded packages", zap.Int("count", len(pkgs)))

	prog, spkgs := pkgutil.BuildProgram(pkgs, 0)
	logger.Info("built packages")

	var funs []*ssa.Function
	for fun := range ssautil.AllFunctions(prog) {
		pkg := fun.Pkg
		if origin := fun.Origin(); origin != nil {
			pkg = origin.Pkg
		}
		if slices.Contains(spkgs, pkg) {
			funs = append(funs, fun)
		}
	}

	res := dsa.Analyze(dsa.Config{
		Program:     prog,
		Functions:   funs,
		Sizes:       sizes,
		ClosedWorld: viper.GetBool("closed-world"),
		Logger:      logger,
	})
	logger.Info("analysis complete", zap.Int("functions", len(res.TopDown.Functions())))

	selected := slices.Filter(res.TopDown.Functions(), func(fun *ssa.Function) bool {
		return filter.MatchString(fun.String())
	})
	return res, selected, nil
}
