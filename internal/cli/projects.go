package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/maxclaw/internal/config"
	"github.com/maxclaw/internal/discovery"
	"github.com/maxclaw/internal/stringutils"
	"github.com/maxclaw/internal/types"
)

var (
	discoverDepth    int
	addName          string
	historyLimit     int
	activityLimit    int
	configAddPath    string
	configRemovePath string
)

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE:  runList,
	}
	rootCmd.AddCommand(listCmd)

	discoverCmd := &cobra.Command{
		Use:   "discover [PATH]",
		Short: "Scan a directory tree for projects",
		Long:  "Walks PATH looking for project roots and registers the new ones.\nWithout PATH every configured scan path is walked.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDiscover,
	}
	discoverCmd.Flags().IntVar(&discoverDepth, "depth", discovery.DefaultMaxDepth, "directory depth to descend")
	rootCmd.AddCommand(discoverCmd)

	addCmd := &cobra.Command{
		Use:   "add PATH",
		Short: "Register a single project",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}
	addCmd.Flags().StringVar(&addName, "name", "", "project name (default: directory basename)")
	rootCmd.AddCommand(addCmd)

	removeCmd := &cobra.Command{
		Use:   "remove PROJECT",
		Short: "Unregister a project by id or name",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemove,
	}
	rootCmd.AddCommand(removeCmd)

	historyCmd := &cobra.Command{
		Use:   "history PROJECT",
		Short: "Show a project's session history",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "most recent sessions to show")
	rootCmd.AddCommand(historyCmd)

	activityCmd := &cobra.Command{
		Use:   "activity [PROJECT]",
		Short: "Show recent activity, optionally scoped to a project",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runActivity,
	}
	activityCmd.Flags().IntVar(&activityLimit, "limit", 20, "entries to show")
	rootCmd.AddCommand(activityCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the configuration",
		RunE:  runConfig,
	}
	configCmd.Flags().StringVar(&configAddPath, "add-path", "", "add a scan path")
	configCmd.Flags().StringVar(&configRemovePath, "remove-path", "", "remove a scan path")
	rootCmd.AddCommand(configCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	env, err := resolveEnv()
	if err != nil {
		return err
	}
	st, err := env.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	projects, err := st.ListProjects()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("no projects registered; run 'maxclaw discover <path>' first")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTECH\tPATH")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, strings.Join(p.TechStack, ","), p.AbsolutePath)
	}
	return w.Flush()
}

func runDiscover(cmd *cobra.Command, args []string) error {
	env, err := resolveEnv()
	if err != nil {
		return err
	}
	st, err := env.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	scanner := discovery.NewScanner(st, quietLogger())
	var res *discovery.Result
	if len(args) == 1 {
		abs, aerr := filepath.Abs(args[0])
		if aerr != nil {
			return aerr
		}
		res, err = scanner.Discover(abs, discoverDepth)
	} else {
		roots := make([]string, 0, len(env.cfg.ScanPaths))
		for _, p := range env.cfg.ScanPaths {
			roots = append(roots, config.ExpandHome(p))
		}
		res, err = scanner.DiscoverAll(roots, discoverDepth)
	}
	if err != nil {
		return err
	}

	fmt.Printf("discovered %d new project(s), %d known\n", res.New, len(res.Projects))
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	env, err := resolveEnv()
	if err != nil {
		return err
	}
	st, err := env.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	project, err := discovery.NewScanner(st, quietLogger()).Add(args[0], addName)
	if err != nil {
		return err
	}
	fmt.Printf("added %s (%s)\n", project.Name, project.AbsolutePath)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	env, err := resolveEnv()
	if err != nil {
		return err
	}
	st, err := env.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	project, err := st.ResolveProject(args[0])
	if err != nil {
		return err
	}
	if err := st.DeleteProject(project.ID); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", project.Name)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	env, err := resolveEnv()
	if err != nil {
		return err
	}
	st, err := env.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	project, err := st.ResolveProject(args[0])
	if err != nil {
		return err
	}
	sessions, err := st.ListSessions(project.ID, "")
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Printf("no sessions recorded for %s\n", project.Name)
		return nil
	}
	if historyLimit > 0 && len(sessions) > historyLimit {
		sessions = sessions[:historyLimit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tSTARTED\tDURATION\tSUMMARY")
	for _, s := range sessions {
		summary := s.Summary
		if summary == "" {
			summary = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(s.ID), s.Status,
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			sessionDuration(s), stringutils.Truncate(summary, 60))
	}
	return w.Flush()
}

func runActivity(cmd *cobra.Command, args []string) error {
	env, err := resolveEnv()
	if err != nil {
		return err
	}
	st, err := env.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var projectID string
	if len(args) == 1 {
		project, err := st.ResolveProject(args[0])
		if err != nil {
			return err
		}
		projectID = project.ID
	}
	activities, err := st.ListActivities(projectID, activityLimit)
	if err != nil {
		return err
	}
	if len(activities) == 0 {
		fmt.Println("no activity recorded")
		return nil
	}

	names := map[string]string{}
	if projects, err := st.ListProjects(); err == nil {
		for _, p := range projects {
			names[p.ID] = p.Name
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tPROJECT\tDETAILS")
	for _, a := range activities {
		name := names[a.ProjectID]
		if name == "" {
			name = shortID(a.ProjectID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			a.Timestamp.Local().Format("2006-01-02 15:04:05"),
			a.Kind, name, formatDetails(a.Details))
	}
	return w.Flush()
}

func runConfig(cmd *cobra.Command, args []string) error {
	env, err := resolveEnv()
	if err != nil {
		return err
	}

	if configAddPath == "" && configRemovePath == "" {
		printConfig(env)
		return nil
	}

	changed := false
	if configAddPath != "" {
		if env.cfg.AddScanPath(configAddPath) {
			fmt.Printf("added scan path %s\n", configAddPath)
			changed = true
		} else {
			fmt.Printf("scan path %s already configured\n", configAddPath)
		}
	}
	if configRemovePath != "" {
		if env.cfg.RemoveScanPath(configRemovePath) {
			fmt.Printf("removed scan path %s\n", configRemovePath)
			changed = true
		} else {
			fmt.Printf("scan path %s not configured\n", configRemovePath)
		}
	}
	if !changed {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(env.configPath), 0o700); err != nil {
		return err
	}
	return config.Save(env.configPath, env.cfg)
}

func printConfig(e *env) {
	fmt.Printf("config file:  %s\n", e.configPath)
	fmt.Printf("data dir:     %s\n", e.root)
	fmt.Printf("max sessions: %d global, %d per project\n",
		e.cfg.Multiplex.MaxSessions, e.cfg.Multiplex.MaxSessionsPerProject)
	fmt.Printf("summaries:    %v (%s)\n", e.cfg.SummaryEnabled(), e.cfg.AI.SummaryModel)
	if len(e.cfg.ScanPaths) == 0 {
		fmt.Println("scan paths:   none")
		return
	}
	fmt.Println("scan paths:")
	for _, p := range e.cfg.ScanPaths {
		fmt.Printf("  %s\n", p)
	}
}

// sessionDuration renders elapsed time, or a dash while still open.
func sessionDuration(s *types.Session) string {
	if s.EndedAt == nil {
		return "-"
	}
	return stringutils.FormatDuration(s.EndedAt.Sub(s.StartedAt))
}

// formatDetails flattens the detail map into stable k=v pairs.
func formatDetails(m map[string]string) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}
