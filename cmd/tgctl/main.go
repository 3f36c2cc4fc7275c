package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatewaylabs/toolgate/pkg/client"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	registryURL string
	bearerToken string
	cfgFile     string
	outputJSON  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tgctl",
	Short: "toolgate registry CLI",
	Long: `tgctl is the command-line interface for a toolgate registry.

It registers and manages tool servers and A2A agents, runs hybrid
semantic search, and inspects security scan results.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.tgctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("TOOLGATE")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
		if registryURL == "" {
			registryURL = "http://localhost:8080"
		}
		if bearerToken == "" {
			bearerToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.tgctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "registry URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "bearer token (or TOOLGATE_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output JSON instead of tables")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}

func apiClient() *client.Client {
	opts := []client.Option{client.WithTimeout(30 * time.Second)}
	if bearerToken != "" {
		opts = append(opts, client.WithBearerToken(bearerToken))
	}
	return client.New(registryURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── server ───────────────────────────────────────────────────────────────────

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage tool servers",
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tool servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := apiClient().ListServers(context.Background())
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(servers)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tNAME\tENABLED\tTOOLS\tSTARS\tTAGS")
		for _, s := range servers {
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%.1f\t%s\n",
				s.Path, s.Name, s.IsEnabled, s.NumTools, s.NumStars, strings.Join(s.Tags, ","))
		}
		return w.Flush()
	},
}

var (
	srvName      string
	srvPath      string
	srvProxyURL  string
	srvDesc      string
	srvTags      []string
	srvToolsFile string
	srvOverwrite bool
)

var serverRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a tool server (starts disabled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := client.RegisterServerRequest{
			Name:        srvName,
			Path:        srvPath,
			ProxyURL:    srvProxyURL,
			Description: srvDesc,
			Tags:        srvTags,
			Overwrite:   srvOverwrite,
		}
		if srvToolsFile != "" {
			raw, err := os.ReadFile(srvToolsFile)
			if err != nil {
				return fmt.Errorf("read tool list: %w", err)
			}
			req.ToolListJSON = string(raw)
		}

		srv, err := apiClient().RegisterServer(context.Background(), req)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(srv)
		}
		fmt.Printf("registered %s at %s (disabled; enable with 'tgctl server toggle %s --enable')\n",
			srv.Name, srv.Path, srv.Path)
		return nil
	},
}

var srvEnable bool

var serverToggleCmd = &cobra.Command{
	Use:   "toggle <path>",
	Short: "Enable or disable a tool server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := apiClient().ToggleServer(context.Background(), args[0], srvEnable)
		if err != nil {
			return err
		}
		fmt.Printf("%s is_enabled=%t\n", args[0], state)
		return nil
	},
}

var serverRateCmd = &cobra.Command{
	Use:   "rate <path> <rating>",
	Short: "Rate a tool server from 1 to 5",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rating, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("rating must be an integer 1..5")
		}
		avg, err := apiClient().RateServer(context.Background(), args[0], rating)
		if err != nil {
			return err
		}
		fmt.Printf("%s average rating: %.2f\n", args[0], avg)
		return nil
	},
}

var serverScanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Show the latest security scan for a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := apiClient().ServerScan(context.Background(), args[0])
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		return printJSON(v)
	},
}

func init() {
	serverRegisterCmd.Flags().StringVar(&srvName, "name", "", "server display name")
	serverRegisterCmd.Flags().StringVar(&srvPath, "path", "", "registry path, e.g. /context7")
	serverRegisterCmd.Flags().StringVar(&srvProxyURL, "proxy-url", "", "upstream MCP endpoint")
	serverRegisterCmd.Flags().StringVar(&srvDesc, "description", "", "server description")
	serverRegisterCmd.Flags().StringSliceVar(&srvTags, "tags", nil, "comma-separated tags")
	serverRegisterCmd.Flags().StringVar(&srvToolsFile, "tools", "", "path to a tool list JSON file")
	serverRegisterCmd.Flags().BoolVar(&srvOverwrite, "overwrite", false, "overwrite an existing registration")
	_ = serverRegisterCmd.MarkFlagRequired("name")
	_ = serverRegisterCmd.MarkFlagRequired("path")
	_ = serverRegisterCmd.MarkFlagRequired("proxy-url")

	serverToggleCmd.Flags().BoolVar(&srvEnable, "enable", false, "enable (omit to disable)")

	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverRegisterCmd)
	serverCmd.AddCommand(serverToggleCmd)
	serverCmd.AddCommand(serverRateCmd)
	serverCmd.AddCommand(serverScanCmd)
}

// ── agent ────────────────────────────────────────────────────────────────────

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage A2A agents",
}

var (
	agentQuery       string
	agentEnabledOnly bool
	agentVisibility  string
)

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents visible to you",
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := apiClient().ListAgents(context.Background(), agentQuery, agentEnabledOnly, agentVisibility)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(agents)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tNAME\tENABLED\tVISIBILITY\tTRUST\tSTARS")
		for _, a := range agents {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%.1f\n",
				a.Path, a.Name, a.IsEnabled, a.Visibility, a.TrustLevel, a.NumStars)
		}
		return w.Flush()
	},
}

var agentCardFile string

var agentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an A2A agent from a card file (starts disabled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(agentCardFile)
		if err != nil {
			return fmt.Errorf("read card: %w", err)
		}
		var card map[string]any
		if err := json.Unmarshal(raw, &card); err != nil {
			return fmt.Errorf("parse card: %w", err)
		}

		agent, err := apiClient().RegisterAgent(context.Background(), card)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(agent)
		}
		fmt.Printf("registered %s at %s (disabled)\n", agent.Name, agent.Path)
		return nil
	},
}

var agentEnable bool

var agentToggleCmd = &cobra.Command{
	Use:   "toggle <path>",
	Short: "Enable or disable an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := apiClient().ToggleAgent(context.Background(), args[0], agentEnable)
		if err != nil {
			return err
		}
		fmt.Printf("%s is_enabled=%t\n", args[0], state)
		return nil
	},
}

var (
	discoverSkills []string
	discoverTags   []string
	discoverMax    int
)

var agentDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find enabled agents by required skills",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := apiClient().Discover(context.Background(), discoverSkills, discoverTags, discoverMax)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(results)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tNAME\tRELEVANCE\tMATCHED SKILLS")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n",
				r.Agent.Path, r.Agent.Name, r.Relevance, strings.Join(r.MatchedSkills, ","))
		}
		return w.Flush()
	},
}

func init() {
	agentListCmd.Flags().StringVar(&agentQuery, "query", "", "substring filter over name/description/tags")
	agentListCmd.Flags().BoolVar(&agentEnabledOnly, "enabled-only", false, "only enabled agents")
	agentListCmd.Flags().StringVar(&agentVisibility, "visibility", "", "filter by visibility")

	agentRegisterCmd.Flags().StringVar(&agentCardFile, "card", "", "path to the A2A card JSON file")
	_ = agentRegisterCmd.MarkFlagRequired("card")

	agentToggleCmd.Flags().BoolVar(&agentEnable, "enable", false, "enable (omit to disable)")

	agentDiscoverCmd.Flags().StringSliceVar(&discoverSkills, "skills", nil, "required skills (comma-separated)")
	agentDiscoverCmd.Flags().StringSliceVar(&discoverTags, "tags", nil, "preferred tags")
	agentDiscoverCmd.Flags().IntVar(&discoverMax, "max", 10, "maximum results")
	_ = agentDiscoverCmd.MarkFlagRequired("skills")

	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentRegisterCmd)
	agentCmd.AddCommand(agentToggleCmd)
	agentCmd.AddCommand(agentDiscoverCmd)
}

// ── search ───────────────────────────────────────────────────────────────────

var (
	searchKinds []string
	searchMax   int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid semantic search across servers, tools, and agents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := apiClient().Search(context.Background(), strings.Join(args, " "), searchKinds, searchMax)
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchKinds, "kinds", nil, "restrict to kinds: mcp_server, tool, a2a_agent")
	searchCmd.Flags().IntVar(&searchMax, "max", 10, "maximum results per view")
}

// ── seed ─────────────────────────────────────────────────────────────────────

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Register a demo fixture set for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient()
		ctx := context.Background()

		fixtures := []client.RegisterServerRequest{
			{
				Name:        "Context7",
				Path:        "/context7",
				ProxyURL:    "http://localhost:9101",
				Description: "Up-to-date code documentation lookup",
				Tags:        []string{"docs", "search"},
			},
			{
				Name:        "Filesystem",
				Path:        "/filesystem",
				ProxyURL:    "http://localhost:9102",
				Description: "Read and write files under an allowed root",
				Tags:        []string{"files", "io"},
			},
			{
				Name:        "Weather",
				Path:        "/weather",
				ProxyURL:    "http://localhost:9103",
				Description: "Current conditions and forecasts",
				Tags:        []string{"weather", "data"},
			},
		}
		for _, f := range fixtures {
			f.Overwrite = true
			srv, err := c.RegisterServer(ctx, f)
			if err != nil {
				return fmt.Errorf("seed %s: %w", f.Name, err)
			}
			fmt.Printf("seeded %s at %s\n", srv.Name, srv.Path)
		}

		card := map[string]any{
			"name":        "Summarizer",
			"description": "Summarizes documents and web pages",
			"url":         "http://localhost:9201",
			"version":     "1.0.0",
			"skills": []map[string]any{
				{"name": "Summarization", "description": "Condense long text", "tags": []string{"nlp"}},
			},
			"tags":       "nlp,text",
			"visibility": "public",
		}
		agent, err := c.RegisterAgent(ctx, card)
		if err != nil {
			return fmt.Errorf("seed agent: %w", err)
		}
		fmt.Printf("seeded agent %s at %s\n", agent.Name, agent.Path)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tgctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("tgctl", version)
	},
}
