package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strings"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/urfave/cli/v2"

	"github.com/qseek/qseek"
	"github.com/qseek/qseek/cache"
	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/tiledbutil"
	"github.com/qseek/qseek/traveltime"
)

// knownRayTracerKinds lists the built-in travel-time provider kinds a
// ray_tracers entry may name, per §9 "two ray-tracer phase ids per config
// entry" (cake:* layered, fm:* eikonal).
var knownRayTracerKinds = []string{"cake", "fm"}

func buildTables(cfg qseek.Configuration) (map[string]traveltime.Table, error) {
	model_ := traveltime.DefaultEarthModel()
	tables := make(map[string]traveltime.Table, len(cfg.RayTracers))

	for _, rt := range cfg.RayTracers {
		// rt.Kind is the full ray-tracer id (e.g. "cake:S"), used only as
		// the tables map key so cake:* and fm:* tables for the same phase
		// don't collide; the table itself, and the earth model it queries
		// for Vp/Vs, only ever knows the bare phase letter after the colon.
		_, phase, ok := strings.Cut(rt.Kind, ":")
		if !ok {
			return nil, fmt.Errorf("unknown ray tracer kind %q (known: cake:P, cake:S, fm:P, fm:S)", rt.Kind)
		}
		switch rt.Kind {
		case "cake:P", "cake:S":
			tables[rt.Kind] = traveltime.NewLayeredTable(model_, []string{phase})
		case "fm:P", "fm:S":
			tables[rt.Kind] = traveltime.NewEikonalTable(model_, phase, cfg.Octree.SizeLimit)
		default:
			return nil, fmt.Errorf("unknown ray tracer kind %q (known: cake:P, cake:S, fm:P, fm:S)", rt.Kind)
		}
	}
	return tables, nil
}

// runSearch constructs a Search controller from a loaded configuration
// and drives it to completion. The waveform provider and image functions
// are external collaborators (spec.md §1 Out of scope); this entrypoint
// only wires what the core owns and reports clearly when no concrete
// provider/image-function implementation has been registered for a
// configured kind, rather than silently no-op'ing.
func runSearch(ctx context.Context, rd *qseek.RunDir, cfg qseek.Configuration) error {
	anchor := model.NewLocation(0, 0, 0)
	if len(cfg.Stations) > 0 {
		anchor = cfg.Stations[0].Location
	}

	octree, err := cfg.NewOctree(anchor)
	if err != nil {
		return err
	}
	stations := model.NewStations(cfg.Stations)

	tables, err := buildTables(cfg)
	if err != nil {
		return err
	}

	tiledbCtx, tiledbConfig, err := tiledbContextAndConfig("")
	if err != nil {
		return err
	}
	defer tiledbCtx.Free()
	defer tiledbConfig.Free()

	cacheDir := cache.Dir(cacheDefaultDir(), cache.Eikonal)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return err
	}
	var eikonalTables []*traveltime.EikonalTable
	for _, table := range tables {
		et, ok := table.(*traveltime.EikonalTable)
		if !ok {
			continue
		}
		eikonalTables = append(eikonalTables, et)
		if err := et.LoadCache(tiledbCtx, tiledbConfig, cacheDir); err != nil {
			// A missing or unreadable archive just means every station
			// resolves fresh; Prepare tolerates a nil preloaded map.
			continue
		}
	}

	logFile, err := os.OpenFile(rd.Log(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := log.New(logFile, "", log.LstdFlags)

	search := qseek.NewSearch(cfg, octree, stations, tables, nil, nil, nil, rd, logger)
	if err := search.Prepare(ctx); err != nil {
		return err
	}
	for _, et := range eikonalTables {
		if err := et.SaveCache(tiledbCtx, tiledbConfig, cacheDir); err != nil {
			logger.Printf("eikonal cache save failed: %v", err)
		}
	}
	logger.Printf("prepared %d travel-time tables over %d stations and a %d-root octree; window_padding=%.3fs",
		len(tables), stations.Len(), octree.RootCount(), search.Config.WindowPadding)

	return fmt.Errorf("no waveform provider registered for kind %q: waveform ingestion is an external collaborator (see spec.md §1); %d travel-time tables and %d stations were prepared successfully over a %d-root octree",
		cfg.DataProvider.Kind, len(tables), stations.Len(), octree.RootCount())
}

func tiledbContextAndConfig(configURI string) (*tiledb.Context, *tiledb.Config, error) {
	var (
		cfg *tiledb.Config
		err error
	)
	if configURI == "" {
		cfg, err = tiledb.NewConfig()
	} else {
		cfg, err = tiledb.LoadConfig(configURI)
	}
	if err != nil {
		return nil, nil, err
	}
	ctx, err := tiledb.NewContext(cfg)
	if err != nil {
		return nil, nil, err
	}
	return ctx, cfg, nil
}

// dumpStructSchema reflects over t's exported fields and their `json`
// tags into a minimal JSON-Schema-shaped document, the way the teacher's
// schema.go walks a struct's fields via reflect to build a TileDB schema
// instead of a JSON one. Field order comes from tiledbutil.FieldNames, the
// same helper SchemaAttrs uses to walk a struct's exported fields.
func dumpStructSchema(t any) map[string]any {
	props := make(map[string]any)
	rt := reflect.TypeOf(t)
	fields := make(map[string]reflect.StructField, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		fields[rt.Field(i).Name] = rt.Field(i)
	}
	order := make([]string, 0, rt.NumField())
	for _, name := range tiledbutil.FieldNames(t) {
		f := fields[name]
		jsonName := f.Tag.Get("json")
		if jsonName == "" {
			jsonName = f.Name
		}
		props[jsonName] = f.Type.String()
		order = append(order, jsonName)
	}
	return map[string]any{"type": "object", "properties": props, "propertyOrder": order}
}

func main() {
	app := &cli.App{
		Name:  "qseek",
		Usage: "adaptive-octree stacking-and-migration earthquake detection engine",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "print the default configuration",
				Action: func(cCtx *cli.Context) error {
					jsn, err := tiledbutil.JsonIndentDumps(qseek.DefaultConfiguration())
					if err != nil {
						return err
					}
					fmt.Println(jsn)
					return nil
				},
			},
			{
				Name:      "search",
				Usage:     "run a search against a configuration file",
				ArgsUsage: "<config>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "replace an existing run directory"},
				},
				Action: func(cCtx *cli.Context) error {
					configPath := cCtx.Args().First()
					if configPath == "" {
						return fmt.Errorf("search: missing <config> argument")
					}
					cfg, err := qseek.LoadConfig(configPath)
					if err != nil {
						return err
					}

					rd, err := qseek.InitRunDir(cfg.ProjectDir, cCtx.Bool("force"))
					if err != nil {
						return err
					}
					if err := qseek.SaveConfig(rd.SearchJSON(), cfg); err != nil {
						return err
					}

					ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
					defer stop()
					return runSearch(ctx, rd, cfg)
				},
			},
			{
				Name:      "continue",
				Usage:     "resume a search from its progress file",
				ArgsUsage: "<rundir>",
				Action: func(cCtx *cli.Context) error {
					root := cCtx.Args().First()
					if root == "" {
						return fmt.Errorf("continue: missing <rundir> argument")
					}
					rd, err := qseek.OpenRunDir(root)
					if err != nil {
						return err
					}
					cfg, err := qseek.LoadConfig(rd.SearchJSON())
					if err != nil {
						return err
					}
					ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
					defer stop()
					return runSearch(ctx, rd, cfg)
				},
			},
			{
				Name:      "feature-extraction",
				Usage:     "re-run post-processors on existing detections",
				ArgsUsage: "<rundir>",
				Action: func(cCtx *cli.Context) error {
					root := cCtx.Args().First()
					if root == "" {
						return fmt.Errorf("feature-extraction: missing <rundir> argument")
					}
					if _, err := qseek.OpenRunDir(root); err != nil {
						return err
					}
					return fmt.Errorf("feature-extraction: magnitude/feature post-processors are an external collaborator (spec.md §1); nothing to dispatch to")
				},
			},
			{
				Name:      "corrections",
				Usage:     "compute station corrections from a completed run",
				ArgsUsage: "<rundir>",
				Action: func(cCtx *cli.Context) error {
					root := cCtx.Args().First()
					if root == "" {
						return fmt.Errorf("corrections: missing <rundir> argument")
					}
					if _, err := qseek.OpenRunDir(root); err != nil {
						return err
					}
					return fmt.Errorf("corrections: station-correction fitting is an external collaborator; QSeek carries station_corrections as a config passthrough only")
				},
			},
			{
				Name:  "modules",
				Usage: "list pluggable modules, or print default JSON for one",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "json", Usage: "print default params for the named module"},
				},
				Action: func(cCtx *cli.Context) error {
					name := cCtx.String("json")
					if name == "" {
						for _, k := range knownRayTracerKinds {
							fmt.Println(k)
						}
						return nil
					}
					for _, k := range knownRayTracerKinds {
						if k == name {
							jsn, err := tiledbutil.JsonIndentDumps(qseek.TaggedKind{Kind: name})
							if err != nil {
								return err
							}
							fmt.Println(jsn)
							return nil
						}
					}
					return fmt.Errorf("modules: unknown module %q", name)
				},
			},
			{
				Name:  "clear-cache",
				Usage: "purge the process-wide cache directory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "cache-dir", Value: cacheDefaultDir(), Usage: "cache directory root"},
					&cli.StringFlag{Name: "config-uri", Usage: "TileDB config URI"},
				},
				Action: func(cCtx *cli.Context) error {
					ctx, config, err := tiledbContextAndConfig(cCtx.String("config-uri"))
					if err != nil {
						return err
					}
					defer ctx.Free()
					defer config.Free()

					n, err := cache.Clear(ctx, config, cCtx.String("cache-dir"))
					if err != nil {
						return err
					}
					log.Printf("removed %d cached archives", n)
					return nil
				},
			},
			{
				Name:      "dump-schemas",
				Usage:     "emit JSON schemas for config and detections",
				ArgsUsage: "<folder>",
				Action: func(cCtx *cli.Context) error {
					folder := cCtx.Args().First()
					if folder == "" {
						return fmt.Errorf("dump-schemas: missing <folder> argument")
					}
					if err := os.MkdirAll(folder, 0o755); err != nil {
						return err
					}

					configSchema := dumpStructSchema(qseek.Configuration{})
					if _, err := tiledbutil.WriteJson(filepath.Join(folder, "config.schema.json"), "", configSchema); err != nil {
						return err
					}

					detectionSchema := dumpStructSchema(model.Detection{})
					if _, err := tiledbutil.WriteJson(filepath.Join(folder, "detection.schema.json"), "", detectionSchema); err != nil {
						return err
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func cacheDefaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".qseek-cache"
	}
	return filepath.Join(dir, "qseek")
}
