package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"goose/internal/app"
	"goose/internal/config"
	"goose/internal/conversation"
	"goose/internal/db"
	"goose/internal/domain"
	"goose/internal/engine"
	"goose/internal/migrate"
	"goose/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "goose",
	Short: "Goose CLI",
	Long: `Goose tracks issues through a requirement negotiation with the customer.
- Project: owns an ordered set of states, each in one phase (Negotiation, Processing, Conclusion).
- Issue: collects requirements and an estimate while in the Negotiation phase.
- Summary: freezes the requirements; the customer accepts it (the issue moves to Waiting) or declines it.
- Conversation: append-only log of messages and workflow events on an issue.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GOOSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(parentCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func actor() (string, error) {
	a := strings.TrimSpace(viper.GetString("actor"))
	if a == "" {
		return "", errors.New("--actor (or GOOSE_ACTOR) is required")
	}
	return a, nil
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage goose.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default goose.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}
	cfg.AddCommand(initCmd, showCmd)
	return cfg
}

func dbCmd() *cobra.Command {
	d := &cobra.Command{Use: "db", Short: "Database maintenance"}
	d.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := migrate.Version(ctx, a.DB)
				if err != nil {
					return err
				}
				fmt.Printf("schema version %d (%s)\n", v, db.Path(a.Workspace))
				return nil
			})
		},
	})
	return d
}

func companyCmd() *cobra.Command {
	c := &cobra.Command{Use: "company", Short: "Manage companies"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a company owned by the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				co, err := e.CreateCompany(ctx, name, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(co)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "company name")
	_ = create.MarkFlagRequired("name")

	var userID, role string
	grant := &cobra.Command{
		Use:   "grant <company-id>",
		Short: "Grant a company role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				return e.GrantCompanyRole(ctx, args[0], userID, role, actorID)
			})
		},
	}
	grant.Flags().StringVar(&userID, "user", "", "user id")
	grant.Flags().StringVar(&role, "role", "", "company_owner or company_customer")
	_ = grant.MarkFlagRequired("user")
	_ = grant.MarkFlagRequired("role")

	c.AddCommand(create, grant)
	return c
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatesCmd())
	prj.AddCommand(projectAddStateCmd())
	prj.AddCommand(projectGrantCmd())
	prj.AddCommand(projectRevokeCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var companyID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project with the default states",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				p, err := e.CreateProject(ctx, companyID, name, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Project %s (%s)\n", p.ID, p.Name)
				printStates(p.States)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "", "company id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <company-id>",
		Short: "List the company's projects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				items, err := e.ListProjects(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				p, err := e.GetProject(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Project %s (%s), company %s\n", p.ID, p.Name, p.CompanyID)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Roles"})
				for _, u := range p.Users {
					tw.AppendRow(table.Row{u.UserID, strings.Join(u.Roles, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectStatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "states <project-id>",
		Short: "List project states in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				items, err := e.ListStates(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printStates(items)
				return nil
			})
		},
	}
}

func projectAddStateCmd() *cobra.Command {
	var name, phase string
	cmd := &cobra.Command{
		Use:   "add-state <project-id>",
		Short: "Append a user-defined state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				s, err := e.AddState(ctx, args[0], name, domain.Phase(phase), actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "state name")
	cmd.Flags().StringVar(&phase, "phase", "", "Negotiation, Processing or Conclusion")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func projectGrantCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "grant <project-id>",
		Short: "Grant a project role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				if err := e.GrantProjectRole(ctx, args[0], userID, role, actorID); err != nil {
					return err
				}
				fmt.Printf("granted %s to %s\n", role, userID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "customer, employee, leader or readonly_employee")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func projectRevokeCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "revoke <project-id>",
		Short: "Revoke a project role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				if err := e.RevokeProjectRole(ctx, args[0], userID, role, actorID); err != nil {
					return err
				}
				fmt.Printf("revoked %s from %s\n", role, userID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "project role")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func issueCmd() *cobra.Command {
	is := &cobra.Command{Use: "issue", Short: "Manage issues"}
	is.AddCommand(issueCreateCmd())
	is.AddCommand(issueListCmd())
	is.AddCommand(issueShowCmd())
	is.AddCommand(issueLogCmd())
	is.AddCommand(issueRequireCmd())
	is.AddCommand(issueEstimateCmd())
	is.AddCommand(issueMessageCmd())
	return is
}

func issueCreateCmd() *cobra.Command {
	var opts engine.IssueCreateOptions
	var requirements []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("requirement") {
				opts.Requirements = requirements
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				created, err := e.CreateIssue(ctx, opts, actorID)
				if err != nil {
					return err
				}
				return printIssue(created)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "issue name")
	cmd.Flags().StringVar(&opts.Type, "type", "", "issue type (default feature)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority")
	cmd.Flags().BoolVar(&opts.Visibility, "visible", false, "visible to the customer")
	cmd.Flags().BoolVar(&opts.RequirementsNeeded, "needs-requirements", false, "requirements must be negotiated")
	cmd.Flags().StringArrayVar(&requirements, "requirement", nil, "initial requirement (repeatable)")
	cmd.Flags().Float64Var(&opts.ExpectedTime, "hours", 0, "initial estimate in hours")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "customer user id (default actor)")
	cmd.Flags().StringVar(&opts.StateName, "state", "", "initial state name (default Checking)")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent issue id")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func issueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List the project's issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				items, err := e.ListIssues(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				states, err := e.ListStates(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				names := make(map[string]string, len(states))
				for _, s := range states {
					names[s.ID] = s.Name
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "State", "Summary", "Accepted"})
				for _, is := range items {
					d := is.Detail
					tw.AppendRow(table.Row{is.ID, d.Name, d.Type, names[is.StateID], d.RequirementsSummaryCreated, d.RequirementsAccepted})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				is, err := e.GetIssue(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printIssue(is)
			})
		},
	}
}

func issueLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <issue-id>",
		Short: "Show the issue conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				entries, err := e.Conversation(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				printConversation(entries)
				return nil
			})
		},
	}
}

func issueRequireCmd() *cobra.Command {
	var remove string
	cmd := &cobra.Command{
		Use:   "require <issue-id> [text]",
		Short: "Add a requirement, or remove one with --remove",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				if remove != "" {
					return e.RemoveRequirement(ctx, args[0], remove, actorID)
				}
				if len(args) < 2 {
					return errors.New("requirement text is required")
				}
				r, err := e.AddRequirement(ctx, args[0], args[1], actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&remove, "remove", "", "requirement id to remove")
	return cmd
}

func issueEstimateCmd() *cobra.Command {
	var hours float64
	cmd := &cobra.Command{
		Use:   "estimate <issue-id>",
		Short: "Set the expected time in hours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				is, err := e.SetExpectedTime(ctx, args[0], hours, actorID)
				if err != nil {
					return err
				}
				return printIssue(is)
			})
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 0, "hours")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func issueMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <issue-id> <text>",
		Short: "Post a message to the conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				entry, err := e.PostMessage(ctx, args[0], args[1], actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
}

func summaryCmd() *cobra.Command {
	s := &cobra.Command{Use: "summary", Short: "Negotiate the requirement summary"}
	s.AddCommand(&cobra.Command{
		Use:   "create <issue-id>",
		Short: "Freeze the requirements into a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				reqs, err := e.CreateSummary(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printRequirements(reqs)
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show the summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				reqs, err := e.GetSummary(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printRequirements(reqs)
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "accept <issue-id>",
		Short: "Accept the summary as the customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				is, err := e.AcceptSummary(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printIssue(is)
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "decline <issue-id>",
		Short: "Decline the summary as the customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				is, err := e.DeclineSummary(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printIssue(is)
			})
		},
	})
	return s
}

func parentCmd() *cobra.Command {
	p := &cobra.Command{Use: "parent", Short: "Link issues to a parent"}
	p.AddCommand(&cobra.Command{
		Use:   "set <issue-id> <parent-id>",
		Short: "Set the parent of an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				is, err := e.SetParent(ctx, args[0], args[1], actorID)
				if err != nil {
					return err
				}
				return printIssue(is)
			})
		},
	})
	p.AddCommand(&cobra.Command{
		Use:   "remove <issue-id>",
		Short: "Detach an issue from its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				is, err := e.RemoveParent(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printIssue(is)
			})
		},
	})
	p.AddCommand(&cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show the parent and children of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				parent, err := e.GetParent(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				children, err := e.Children(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				var parentID string
				if parent != nil {
					parentID = parent.ID
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"parent_id": parentID, "children": children})
				}
				if parentID == "" {
					parentID = "none"
				}
				fmt.Println("Parent:", parentID)
				fmt.Println("Children:")
				for _, c := range children {
					fmt.Println("  " + c)
				}
				return nil
			})
		},
	})
	return p
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			scfg := a.ServerConfig()
			if cmd.Flags().Changed("base-path") {
				scfg.BasePath = basePath
			}
			if s := os.Getenv("GOOSE_JWT_SECRET"); s != "" {
				scfg.Auth.JWTSecret = s
			}
			if scfg.Auth.JWTSecret == "" && !scfg.Auth.AllowLegacyActorHeader {
				return fmt.Errorf("auth.jwt_secret (or GOOSE_JWT_SECRET) is required for bearer auth")
			}
			handler, err := server.New(scfg)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = a.Config.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			a.Log.Info().Str("addr", addr).Str("base_path", scfg.BasePath).Msg("serving goose api")
			fmt.Printf("Serving Goose API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, scfg.BasePath, scfg.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := actor()
			if err != nil {
				return err
			}
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			secret := cfg.Auth.JWTSecret
			if s := os.Getenv("GOOSE_JWT_SECRET"); s != "" {
				secret = s
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := server.SignToken(secret, actorID, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage the actor's API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key (the secret is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				key, secret, err := e.IssueAPIKey(ctx, name, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "name": key.Name, "key": secret})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				keys, err := e.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.Name, key.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				return e.RevokeAPIKey(ctx, args[0], actorID)
			})
		},
	}
	k.AddCommand(create, list, revoke)
	return k
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	actorID, err := actor()
	if err != nil {
		return err
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine, actorID)
	})
}

func printStates(items []domain.State) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "ID", "Name", "Phase", "User"})
	for i, s := range items {
		tw.AppendRow(table.Row{i + 1, s.ID, s.Name, s.Phase, s.UserGenerated})
	}
	tw.Render()
}

func printIssue(is domain.Issue) error {
	if viper.GetBool("json") {
		return printJSON(is)
	}
	parent := "-"
	if is.ParentID != nil {
		parent = *is.ParentID
	}
	d := is.Detail
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", is.ID},
		{"Name", d.Name},
		{"Type", d.Type},
		{"Project", is.ProjectID},
		{"State", is.StateID},
		{"Parent", parent},
		{"Client", is.ClientID},
		{"Expected hours", d.ExpectedTime},
		{"Summary created", d.RequirementsSummaryCreated},
		{"Summary accepted", d.RequirementsAccepted},
		{"Revision", is.Revision},
	})
	tw.Render()
	if len(d.Requirements) > 0 {
		printRequirementTable(d.Requirements)
	}
	return nil
}

func printRequirements(reqs []domain.Requirement) error {
	if viper.GetBool("json") {
		return printJSON(reqs)
	}
	printRequirementTable(reqs)
	return nil
}

func printRequirementTable(reqs []domain.Requirement) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Requirement"})
	for _, r := range reqs {
		tw.AppendRow(table.Row{r.ID, r.Text})
	}
	tw.Render()
}

func printConversation(entries []conversation.Entry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Time", "By", "Type", "Data"})
	for _, e := range entries {
		data := e.Data
		if data == "" && len(e.Requirements) > 0 {
			data = strings.Join(e.Requirements, "; ")
		}
		if e.OtherIssueID != nil {
			data = strings.TrimSpace(data + " " + *e.OtherIssueID)
		}
		tw.AppendRow(table.Row{e.CreatedAt.Format(time.RFC3339), e.CreatorID, e.Type, data})
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
