package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/artpar/shipmate/internal/core/digest"
	"github.com/artpar/shipmate/internal/shell/bench"
	"github.com/artpar/shipmate/internal/shell/drift"
	"github.com/artpar/shipmate/internal/shell/release"
	"github.com/artpar/shipmate/internal/shell/sshexec"
)

// =============================================================================
// History / State
// =============================================================================

func newHistoryCmd(global *GlobalFlags) *cobra.Command {
	var (
		host  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent deployments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}

			records := a.history.List(host, limit)
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No deployments recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tHOST\tSERVICE\tSTATUS\tDIGEST")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.ID,
					rec.Timestamp.Format(time.RFC3339),
					rec.Host,
					rec.ServiceName,
					rec.Status,
					digest.Short(rec.DescriptorHash),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Filter by host")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum records to show")
	return cmd
}

func newStateCmd(global *GlobalFlags) *cobra.Command {
	var (
		host    string
		service string
	)

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the last-applied deployment state for a host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			if host == "" {
				return fmt.Errorf("--host is required")
			}

			entry := a.state.Get(host, service)
			if entry == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No deployment recorded for %s.\n", host)
				return nil
			}
			out, err := json.MarshalIndent(entry, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Target host")
	cmd.Flags().StringVar(&service, "service", "", "Service name (default: default)")
	return cmd
}

// =============================================================================
// Drift
// =============================================================================

func newDriftCmd(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Record baselines and detect out-of-band changes",
	}
	cmd.AddCommand(newDriftRecordCmd(global), newDriftCheckCmd(global))
	return cmd
}

func newDriftRecordCmd(global *GlobalFlags) *cobra.Command {
	var (
		host  string
		files []string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the expected content hash of deployed files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			if host == "" {
				return fmt.Errorf("--host is required")
			}
			if len(files) == 0 {
				return fmt.Errorf("at least one --file is required")
			}

			detector := drift.NewDetector(a.baselines, a.logger)
			for _, file := range files {
				hash := digest.File(file)
				if hash == "" {
					return fmt.Errorf("cannot hash %s: file not readable", file)
				}
				// Baseline keys are the remote paths; the local copy
				// provides the expected content.
				remotePath := filepath.Base(file)
				if filepath.IsAbs(file) {
					remotePath = file
				}
				if err := detector.RecordBaseline(host, remotePath, hash); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded baseline for %s on %s (%s)\n", remotePath, host, digest.Short(hash))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Target host")
	cmd.Flags().StringSliceVar(&files, "file", nil, "File whose content hash to record (repeatable)")
	return cmd
}

func newDriftCheckCmd(global *GlobalFlags) *cobra.Command {
	var target targetFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare remote files against their recorded baselines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}

			t, _, err := a.resolveTarget(target.Profile, target.override())
			if err != nil {
				return err
			}

			client, err := sshexec.NewClient(t, sshexec.DefaultConfig())
			if err != nil {
				return err
			}
			defer client.Close()

			detector := drift.NewDetector(a.baselines, a.logger)
			drifts := detector.Check(cmd.Context(), t.Host, client)
			if len(drifts) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No drift detected on %s.\n", t.Host)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tSTATUS\tEXPECTED\tACTUAL")
			for _, d := range drifts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					d.File, d.Status, digest.Short(d.Expected), digest.Short(d.Actual))
			}
			w.Flush()
			return &exitError{code: ExitDriftFound, message: fmt.Sprintf("%d file(s) drifted on %s", len(drifts), t.Host)}
		},
	}

	target.register(cmd)
	return cmd
}

// =============================================================================
// Release
// =============================================================================

func newReleaseCmd(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Prepare release artifacts",
	}

	var (
		base         string
		prod         string
		output       string
		stripVolumes []string
		noFixPaths   bool
	)

	prepare := &cobra.Command{
		Use:   "prepare",
		Short: "Merge compose files into a production descriptor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}

			m := release.NewManager(a.logger)
			if err := m.Prepare(cmd.Context(), release.Request{
				BaseFile:     base,
				ProdFile:     prod,
				OutputFile:   output,
				StripVolumes: stripVolumes,
				FixPaths:     !noFixPaths,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Release descriptor written to %s\n", output)
			return nil
		},
	}
	prepare.Flags().StringVar(&base, "base", "docker-compose.yml", "Base compose file")
	prepare.Flags().StringVar(&prod, "prod", "docker-compose.prod.yml", "Production override file")
	prepare.Flags().StringVar(&output, "output", "docker-compose.release.yml", "Merged output file")
	prepare.Flags().StringSliceVar(&stripVolumes, "strip-volumes", nil, "Services whose volume mounts are removed (repeatable)")
	prepare.Flags().BoolVar(&noFixPaths, "no-fix-paths", false, "Keep absolute CI build paths")

	cmd.AddCommand(prepare)
	return cmd
}

// =============================================================================
// Bench
// =============================================================================

func newBenchCmd(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure deployment and endpoint performance",
	}

	var (
		url        string
		requests   int
		concurrent int
		timeout    time.Duration
	)

	load := &cobra.Command{
		Use:   "load",
		Short: "Run an HTTP load test against a deployed endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			if url == "" {
				return fmt.Errorf("--url is required")
			}

			b := bench.New(a.logger)
			stats := b.RunLoadTest(cmd.Context(), bench.LoadTestConfig{
				URL:        url,
				Requests:   requests,
				Concurrent: concurrent,
				Timeout:    timeout,
			})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Requests: %d (ok %d, failed %d)\n", stats.TotalRequests, stats.Successful, stats.Failed)
			fmt.Fprintf(out, "Success rate: %.1f%%\n", stats.SuccessRate)
			fmt.Fprintf(out, "Response time: avg %v, median %v, min %v, max %v, stddev %v\n",
				stats.Avg, stats.Median, stats.Min, stats.Max, stats.StdDev)
			return nil
		},
	}
	load.Flags().StringVar(&url, "url", "", "Endpoint to load test")
	load.Flags().IntVar(&requests, "requests", 100, "Total number of requests")
	load.Flags().IntVar(&concurrent, "concurrent", 10, "Maximum in-flight requests")
	load.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-request timeout")

	cmd.AddCommand(load)
	return cmd
}

// =============================================================================
// Profiles
// =============================================================================

func newProfileCmd(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage named deployment targets",
	}
	cmd.AddCommand(newProfileListCmd(global), newProfileCreateCmd(global), newProfileDeleteCmd(global))
	return cmd
}

func newProfileListCmd(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			if len(a.cfg.Profiles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles configured.")
				return nil
			}

			names := make([]string, 0, len(a.cfg.Profiles))
			for name := range a.cfg.Profiles {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tHOST\tUSER\tPRODUCTION")
			for _, name := range names {
				p := a.cfg.Profiles[name]
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", name, p.Host, p.User, p.Production)
			}
			return w.Flush()
		},
	}
}

func newProfileCreateCmd(global *GlobalFlags) *cobra.Command {
	var p Profile

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create or update a profile in the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if p.Host == "" {
				return fmt.Errorf("--host is required")
			}
			path := global.ConfigPath
			if path == "" {
				path = DefaultConfigPath()
			}
			if err := upsertProfile(path, args[0], p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile %q saved to %s\n", args[0], path)
			return nil
		},
	}

	cmd.Flags().StringVar(&p.Host, "host", "", "Target host address")
	cmd.Flags().IntVar(&p.Port, "port", 0, "SSH port (default 22)")
	cmd.Flags().StringVar(&p.User, "user", "", "SSH user")
	cmd.Flags().StringVar(&p.PrivateKeyPath, "key", "", "Path to SSH private key")
	cmd.Flags().StringVar(&p.WorkDir, "workdir", "", "Remote application directory")
	cmd.Flags().StringVar(&p.EnvFile, "env-file", "", "Env file pushed alongside the descriptor")
	cmd.Flags().StringVar(&p.DeployCommand, "deploy-command", "", "Override remote deploy command")
	cmd.Flags().BoolVar(&p.Production, "production", false, "Require confirmation before deploys")
	return cmd
}

func newProfileDeleteCmd(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a profile from the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := global.ConfigPath
			if path == "" {
				path = DefaultConfigPath()
			}
			removed, err := removeProfile(path, args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("profile %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile %q removed.\n", args[0])
			return nil
		},
	}
}

// upsertProfile rewrites the config file with the profile added or replaced.
// The rest of the document is preserved as-is.
func upsertProfile(path, name string, p Profile) error {
	doc, err := readConfigDoc(path)
	if err != nil {
		return err
	}

	profiles, _ := doc["profiles"].(map[string]interface{})
	if profiles == nil {
		profiles = map[string]interface{}{}
	}
	entry := map[string]interface{}{"host": p.Host}
	if p.Port != 0 {
		entry["port"] = p.Port
	}
	if p.User != "" {
		entry["user"] = p.User
	}
	if p.PrivateKeyPath != "" {
		entry["private_key_path"] = p.PrivateKeyPath
	}
	if p.WorkDir != "" {
		entry["work_dir"] = p.WorkDir
	}
	if p.EnvFile != "" {
		entry["env_file"] = p.EnvFile
	}
	if p.DeployCommand != "" {
		entry["deploy_command"] = p.DeployCommand
	}
	if p.Production {
		entry["production"] = true
	}
	profiles[name] = entry
	doc["profiles"] = profiles

	return writeConfigDoc(path, doc)
}

// removeProfile deletes a profile; reports whether it existed.
func removeProfile(path, name string) (bool, error) {
	doc, err := readConfigDoc(path)
	if err != nil {
		return false, err
	}
	profiles, _ := doc["profiles"].(map[string]interface{})
	if profiles == nil {
		return false, nil
	}
	if _, ok := profiles[name]; !ok {
		return false, nil
	}
	delete(profiles, name)
	doc["profiles"] = profiles
	return true, writeConfigDoc(path, doc)
}

func readConfigDoc(path string) (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return doc, nil
}

func writeConfigDoc(path string, doc map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
