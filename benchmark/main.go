package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"go/token"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/BarrensZeppelin/dsaa"
	"github.com/BarrensZeppelin/dsaa/dsa"
	"github.com/BarrensZeppelin/dsaa/pkgutil"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/packages"
	gopointer "golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

var benchmarks = []repo{
	{"grpc/grpc-go", "23ac72b6454a2bcac32e19ccf501ca3a070f517c"},
	{"gin-gonic/gin", "dc9cff732e27ce4ac21b25772a83c462a28b8b80"},
	{"fatedier/frp", "f1454e91f56508603e4c2e3c7bf37ccb534458c2"},
	// kubernetes takes a long time to analyze...
	// {"kubernetes/kubernetes", "2a5fd3076aee14c1be51c703a7e5b447d638387d"},
	// {"gohugoio/hugo", "2ae4786ca1e4b912fabc8a6be503772374fed5d6"},
	// {"grafana/grafana", "85a207fcebb5acffe6474b97fef91f611f1989ee"},
	{"junegunn/fzf", "58835e40f35fd1007de9bf607e06d555f085354c"},
	// {"syncthing/syncthing", "95b3c26da724aff5b9aae88daf0783d866e95fda"},
	{"caddyserver/caddy", "1b73e3862d312ac2057265bf2a5fd95760dbe9da"},
}

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")

var dir = "."

type repo struct{ name, commit string }

func (r repo) install() string {
	repodir := filepath.Join(dir, "_benchfiles", strings.ReplaceAll(r.name, "/", "#"))
	if _, err := os.Stat(repodir); err != nil {
		if !os.IsNotExist(err) {
			log.Fatal(err)
		}

		log.Printf("Installing %s @ %s", r.name, r.commit)

		os.MkdirAll(repodir, 0750)

		cmd := exec.Command("sh", "-c",
			fmt.Sprintf(`git init && \
	git config advice.detachedHead false && \
	git remote add origin https://github.com/%s.git && \
	git fetch --depth 1 origin %s && \
	git checkout FETCH_HEAD`, r.name, r.commit))
		cmd.Dir = repodir
		if err := cmd.Run(); err != nil {
			log.Fatal(err)
		}
	}

	return repodir
}

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				log.Fatal("Failed to close", f)
			}
		}()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	dirs := make([]string, len(benchmarks))
	for i, repo := range benchmarks {
		dirs[i] = repo.install()
	}

	dataFile, err := os.Create(filepath.Join(dir, "data.jsonl"))
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := dataFile.Close(); err != nil {
			log.Fatalf("Failed to close: %v %v", dataFile, err)
		}
	}()

	dataEncoder := json.NewEncoder(dataFile)

	for i, dir := range dirs {
		var modules []string
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if filepath.Base(path) == "go.mod" {
				modules = append(modules, path)
			}
			return nil
		})
		if err != nil {
			log.Fatal(err)
		}

		println()
		log.Printf("Found %d modules for %s", len(modules), benchmarks[i].name)

		for _, mod := range modules {
			gopath, err := filepath.Abs(filepath.Dir(dir))
			if err != nil {
				log.Fatal(err)
			}

			println()
			moddir := filepath.Dir(mod)
			pkgs, err := pkgutil.LoadPackagesWithConfig(&packages.Config{
				Mode:  pkgutil.LoadMode | packages.NeedModule,
				Tests: true,
				Dir:   moddir,
				Env:   append(os.Environ(), "GO111MODULE=on", "GOPATH="+gopath),
			}, "./...")
			if err != nil {
				log.Print(moddir, err)
				continue
			}

			if len(pkgs) == 0 {
				log.Printf("Skipping module at %v as it has no packages", mod)
				continue
			}

			modulePath := pkgs[0].Module.Path
			log.Printf("Loaded %d packages for %s", len(pkgs), modulePath)

			var mainPkgs []*packages.Package
			for _, pkg := range pkgs {
				if pkg.Name == "main" {
					mainPkgs = append(mainPkgs, pkg)
				}
			}

			data := map[string]any{
				"module":       modulePath,
				"packages":     len(pkgs),
				"mainPackages": len(mainPkgs),
			}

			prog, _ := pkgutil.BuildProgram(mainPkgs, 0)

			log.Print("SSA construction complete")
			ssaMains := ssautil.MainPackages(prog.AllPackages())
			if len(ssaMains) == 0 {
				log.Print("Skipping due to no main packages")
				continue
			}

			aconfig := &gopointer.Config{Mains: ssaMains, BuildCallGraph: true}
			start := time.Now()
			res := dsa.Analyze(dsa.Config{Program: prog, ClosedWorld: true})
			analysisDuration := time.Since(start)
			log.Printf("DSA completed in %v for %d functions",
				analysisDuration, len(res.TopDown.Functions()))

			stats := new(dsaa.Stats)
			aa := dsaa.FromResult(res, dsaa.Config{Observer: stats})

			var queries [][2]dsaa.Location
			for _, fun := range res.TopDown.Functions() {
				locs := accesses(fun)
				for i, a := range locs {
					for _, b := range locs[i+1:] {
						queries = append(queries, [2]dsaa.Location{a, b})
						aconfig.AddQuery(a.Ptr)
						aconfig.AddQuery(b.Ptr)
					}
				}
			}

			start = time.Now()
			verdicts := make([]dsaa.AliasResult, len(queries))
			counts := map[string]int{}
			for i, q := range queries {
				verdicts[i] = aa.Alias(q[0], q[1])
				counts[verdicts[i].String()]++
			}
			queryDuration := time.Since(start)
			log.Printf("%d queries completed in %v: %v", len(queries), queryDuration, counts)

			delegated := map[string]int64{}
			for r := dsaa.NullNode; r <= dsaa.MissingGraph; r++ {
				delegated[r.String()] = stats.Delegations(r)
			}

			data["dsa"] = map[string]any{
				"analysisDuration": analysisDuration.Milliseconds(),
				"queryDuration":    queryDuration.Milliseconds(),
				"queries":          len(queries),
				"verdicts":         counts,
				"delegated":        delegated,
			}

			start = time.Now()
			gores, err := gopointer.Analyze(aconfig)
			if err != nil {
				log.Fatal("Go pointer analysis crashed: ", err)
			}
			analysisDuration = time.Since(start)
			log.Printf("Andersen analysis completed in %v", analysisDuration)

			reachable := getReachable(gores.CallGraph)

			// Compare only queries inside functions that Andersen considers
			// reachable; elsewhere its points-to sets are empty.
			var compared, andersenNo, dsaNo, disagreements int
			for i, q := range queries {
				if !reachable[q[0].Ptr.Parent()] {
					continue
				}
				compared++

				no := !gores.Queries[q[0].Ptr].MayAlias(gores.Queries[q[1].Ptr])
				if no {
					andersenNo++
				}
				if verdicts[i] == dsaa.NoAlias {
					dsaNo++
					if !no {
						disagreements++
					}
				}
			}
			log.Printf("Compared %d queries: NoAlias by Andersen %d, by DSA %d, disagreements %d",
				compared, andersenNo, dsaNo, disagreements)

			data["andersen"] = map[string]any{
				"analysisDuration": analysisDuration.Milliseconds(),
				"reachable":        len(reachable),
				"compared":         compared,
				"noAlias":          andersenNo,
				"dsaNoAlias":       dsaNo,
				"disagreements":    disagreements,
			}

			dataEncoder.Encode(data)
		}
	}
}

// accesses returns the addresses loaded from or stored to by fun.
func accesses(fun *ssa.Function) []dsaa.Location {
	var locs []dsaa.Location
	for _, block := range fun.Blocks {
		for _, insn := range block.Instrs {
			switch insn := insn.(type) {
			case *ssa.Store:
				locs = append(locs, dsaa.Location{Ptr: insn.Addr, Size: dsaa.UnknownSize})
			case *ssa.UnOp:
				if insn.Op == token.MUL {
					locs = append(locs, dsaa.Location{Ptr: insn.X, Size: dsaa.UnknownSize})
				}
			}
		}
	}
	return locs
}

func getReachable(cg *callgraph.Graph) map[*ssa.Function]bool {
	V := map[*callgraph.Node]bool{cg.Root: true}
	Q := []*callgraph.Node{cg.Root}
	for len(Q) > 0 {
		i := Q[0]
		Q = Q[1:]

		for _, edge := range i.Out {
			j := edge.Callee
			if !V[j] {
				V[j] = true
				Q = append(Q, j)
			}
		}
	}

	res := map[*ssa.Function]bool{}
	for node := range V {
		if node.Func != nil {
			res[node.Func] = true
		}
	}
	return res
}
