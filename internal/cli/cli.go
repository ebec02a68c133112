// Package cli provides the unitjobd/unitjobctl command line surface
// built on Cobra: a run/serve command that boots the engine and a
// handful of thin client commands that talk to it over a small
// JSON-over-HTTP API rather than an RPC transport, since no router or
// RPC library is available to build one on top of.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klyuchko/unitjob/internal/config"
	"github.com/klyuchko/unitjob/internal/jobengine"
	"github.com/klyuchko/unitjob/internal/journal"
	"github.com/klyuchko/unitjob/internal/metrics"
	"github.com/klyuchko/unitjob/pkg/unit"
	"github.com/spf13/cobra"
)

var (
	configFile string
	apiAddr    string
)

// BuildDaemonCLI returns the unitjobd root command: serve only.
func BuildDaemonCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "unitjobd",
		Short:   "unitjobd runs the transactional unit job engine",
		Version: "0.1.0",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	root.AddCommand(buildServeCommand())
	return root
}

// BuildCtlCLI returns the unitjobctl root command: start/stop/reload/
// restart/isolate/cancel/status, all thin HTTP clients of a running
// unitjobd.
func BuildCtlCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "unitjobctl",
		Short:   "unitjobctl drives a running unitjobd over its API",
		Version: "0.1.0",
	}
	root.PersistentFlags().StringVar(&apiAddr, "addr", "http://localhost:7070", "unitjobd API base address")
	root.AddCommand(buildUnitCommand("start"))
	root.AddCommand(buildUnitCommand("stop"))
	root.AddCommand(buildUnitCommand("reload"))
	root.AddCommand(buildUnitCommand("restart"))
	root.AddCommand(buildIsolateCommand())
	root.AddCommand(buildCancelCommand())
	root.AddCommand(buildStatusCommand())
	return root
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the job engine and its API/metrics servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("unitjobd: load config: %w", err)
	}

	mc := metrics.NewCollector()

	mgr, j, err := newManager(cfg, mc)
	if err != nil {
		return fmt.Errorf("unitjobd: boot manager: %w", err)
	}
	if j != nil {
		defer j.Close()
	}

	mgr.SubscribeState(func(u unit.ID, os, ns unit.ActiveState, flags unit.NotifyFlags) {
		log.Printf("unitjobd: %s %s -> %s\n", u, os, ns)
	})

	handler := newAPIServer(mgr, mc)
	srv := &http.Server{Addr: cfg.API.Addr, Handler: handler}

	go func() {
		log.Printf("unitjobd: API listening on %s\n", cfg.API.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("unitjobd: API server error: %v\n", err)
		}
	}()

	var statsTicker *time.Ticker
	if cfg.Metrics.Enabled {
		go func() {
			log.Printf("unitjobd: metrics listening on :%d\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Printf("unitjobd: metrics server error: %v\n", err)
			}
		}()

		statsTicker = time.NewTicker(time.Second)
		go func() {
			for range statsTicker.C {
				pending, running := mgr.TableCounts()
				mc.UpdateTableStats(pending, running)
			}
		}()
	}

	var snapshotTicker *time.Ticker
	if j != nil && cfg.Snapshot.IntervalSeconds > 0 {
		snapshotTicker = time.NewTicker(cfg.SnapshotInterval())
		go func() {
			for range snapshotTicker.C {
				live := toSuspendEntries(mgr.SuspendSnapshot())
				if err := j.Compact(live); err != nil {
					log.Printf("unitjobd: journal compaction failed: %v\n", err)
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("unitjobd: shutting down")

	if snapshotTicker != nil {
		snapshotTicker.Stop()
	}
	if statsTicker != nil {
		statsTicker.Stop()
	}
	_ = srv.Close()
	return nil
}

func toSuspendEntries(in []jobengine.SuspendInfo) []journal.SuspendEntry {
	out := make([]journal.SuspendEntry, len(in))
	for i, s := range in {
		out[i] = journal.SuspendEntry{Unit: s.Unit, Kind: s.Kind, Attr: s.Attr}
	}
	return out
}

func buildUnitCommand(verb string) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   verb + " <unit>",
		Short: "Queue a " + verb + " job for a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJob(args[0], verb, mode)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "replace", "job mode: fail, replace, replace-irreversible, ignore-dependencies, ignore-requirements")
	return cmd
}

func buildIsolateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "isolate <unit>",
		Short: "Isolate to the given target unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJob(args[0], "start", "isolate")
		},
	}
}

func buildCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteJob(args[0])
		},
	}
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus()
		},
	}
}

func postJob(unitID, kind, mode string) error {
	body, _ := json.Marshal(jobRequest{Kind: kind, Mode: mode})
	resp, err := http.Post(apiAddr+"/units/"+unitID, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("unitjobctl: request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponseOrExit(resp)
}

func deleteJob(id string) error {
	req, err := http.NewRequest(http.MethodDelete, apiAddr+"/jobs/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("unitjobctl: request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponseOrExit(resp)
}

func printStatus() error {
	resp, err := http.Get(apiAddr + "/status")
	if err != nil {
		return fmt.Errorf("unitjobctl: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println(string(body))
	return nil
}

// printResponseOrExit maps the API's HTTP status back to an exit code:
// 0 success, 1 not found, 2 conflict, 3 refused (e.g. cancel of a
// running trigger), 4 anything else. A replace refused because it would
// cancel an Irreversible job comes back as a conflict, so it exits 2.
func printResponseOrExit(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		if len(body) > 0 {
			fmt.Println(string(body))
		}
		return nil
	case http.StatusNotFound:
		fmt.Fprintln(os.Stderr, string(body))
		os.Exit(1)
	case http.StatusConflict:
		fmt.Fprintln(os.Stderr, string(body))
		os.Exit(2)
	case http.StatusUnprocessableEntity:
		fmt.Fprintln(os.Stderr, string(body))
		os.Exit(3)
	default:
		fmt.Fprintln(os.Stderr, string(body))
		os.Exit(4)
	}
	return nil
}
