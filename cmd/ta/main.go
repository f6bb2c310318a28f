package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tripauth/internal/app"
	"tripauth/internal/config"
	"tripauth/internal/credential"
	"tripauth/internal/db"
	"tripauth/internal/domain"
	"tripauth/internal/engine"
	"tripauth/internal/repo"
	"tripauth/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ta",
	Short: "Tripauth CLI",
	Long: `Tripauth decides what each account of a travel marketplace may do.
Core concepts:
- Owners: admin and vendor accounts. They can do everything and are the root of delegation.
- Employees: accounts created by an owner or by another employee. Each carries a profile.
- Profiles: named permission sets ("bookings:view", "reviews:respond", ...) owned by one account.
- Effective permissions: a profile bounded by everything the creator can do, all the way up the chain.
- Escalation guard: nobody can grant a permission they do not hold.
- Audit log: every delegation change and every refused attempt, view with 'ta audit tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		envPath := filepath.Join(workspace, ".env")
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envPath, err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRIPAUTH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting account id")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(permsCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(employeeCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorCmd() *cobra.Command {
	act := &cobra.Command{Use: "actor", Short: "Register and inspect accounts"}
	act.AddCommand(actorRegisterCmd())
	act.AddCommand(actorShowCmd())
	return act
}

func actorRegisterCmd() *cobra.Command {
	var id, role, email, password, first, last string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an owner or customer account",
		Long:  "Owners (admin, vendor) get a full-access profile on registration. Employees are created with 'ta employee create'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role == "" || email == "" {
				return fmt.Errorf("--role and --email required")
			}
			var hash string
			if password != "" {
				h, err := credential.Hash(password)
				if err != nil {
					return err
				}
				hash = h
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterActor(ctx, engine.RegisterOptions{
					ID:             id,
					Role:           domain.ParseRole(role),
					FirstName:      first,
					LastName:       last,
					Email:          email,
					CredentialHash: hash,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Printf("Registered %s %s (%s)\n", a.Role, a.ID, a.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id (generated when empty)")
	cmd.Flags().StringVar(&role, "role", "", "admin, vendor or customer")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&first, "first", "", "first name")
	cmd.Flags().StringVar(&last, "last", "", "last name")
	return cmd
}

func actorShowCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show an account by id or email",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					a   domain.Actor
					err error
				)
				switch {
				case email != "":
					a, err = e.ActorByEmail(ctx, email)
				case len(args) == 1:
					a, err = e.Actor(ctx, args[0])
				default:
					id, idErr := requireActorID()
					if idErr != nil {
						return idErr
					}
					a, err = e.Actor(ctx, id)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "look up by email")
	return cmd
}

func permsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perms [actor-id]",
		Short: "Show effective permissions",
		Long:  "Resolve what an account can actually do: its profile bounded by every creator above it.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			} else {
				var err error
				if id, err = requireActorID(); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eff, err := e.EffectivePermissions(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(eff)
				}
				fmt.Printf("Actor: %s (%s)\n", eff.ActorID, eff.Role)
				if eff.All {
					fmt.Println("Permissions: all")
					return nil
				}
				if len(eff.Permissions) == 0 {
					fmt.Println("Permissions: none")
					return nil
				}
				fmt.Println("Permissions:")
				for _, p := range eff.Permissions {
					fmt.Printf("  %s\n", p)
				}
				return nil
			})
		},
	}
	return cmd
}

func profileCmd() *cobra.Command {
	prof := &cobra.Command{
		Use:   "profile",
		Short: "Manage permission profiles",
		Long:  "Profiles are named permission sets owned by the acting account (--actor-id). Only owners manage profiles.",
	}
	prof.AddCommand(profileCreateCmd())
	prof.AddCommand(profileListCmd())
	prof.AddCommand(profileShowCmd())
	prof.AddCommand(profileUpdateCmd())
	prof.AddCommand(profileDeleteCmd())
	prof.AddCommand(profileCheckCmd())
	return prof
}

func profileCreateCmd() *cobra.Command {
	var name, desc string
	var perms []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProfile(ctx, actorID, engine.ProfileCreateOptions{
					Name:        name,
					Description: desc,
					Permissions: perms,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "profile name")
	cmd.Flags().StringVar(&desc, "description", "", "profile description")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permission resource:action (repeatable, comma separated)")
	return cmd
}

func profileListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProfiles(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Permissions", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, strings.Join(p.Permissions, ", "), p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func profileShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProfile(ctx, actorID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func profileUpdateCmd() *cobra.Command {
	var name, desc string
	var perms []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update profile",
		Long:  "Only the flags given are changed. --perm replaces the whole permission list.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			var changes engine.ProfileChanges
			if cmd.Flags().Changed("name") {
				changes.Name = &name
			}
			if cmd.Flags().Changed("description") {
				changes.Description = &desc
			}
			if cmd.Flags().Changed("perm") {
				changes.Permissions = &perms
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProfile(ctx, actorID, args[0], changes)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "replacement permissions (repeatable, comma separated)")
	return cmd
}

func profileDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an unused profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				deleted, err := e.DeleteProfile(ctx, actorID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": deleted})
				}
				if !deleted {
					fmt.Println("nothing deleted")
					return nil
				}
				fmt.Printf("Deleted profile %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func profileCheckCmd() *cobra.Command {
	var perms []string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether the acting account may grant permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dec, err := e.CanAssign(ctx, actorID, perms)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"allowed": dec.Allowed, "rejected": nonNil(dec.Rejected)})
				}
				if dec.Allowed {
					fmt.Println("allowed")
					return nil
				}
				fmt.Printf("rejected: %s\n", strings.Join(dec.Rejected, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permission to check (repeatable, comma separated)")
	return cmd
}

func employeeCmd() *cobra.Command {
	emp := &cobra.Command{
		Use:   "employee",
		Short: "Manage employees",
		Long:  "Employees belong to the acting account (--actor-id) and carry one of its profiles.",
	}
	emp.AddCommand(employeeCreateCmd())
	emp.AddCommand(employeeListCmd())
	emp.AddCommand(employeeUpdateCmd())
	emp.AddCommand(employeeDeleteCmd())
	return emp
}

func employeeCreateCmd() *cobra.Command {
	var id, email, password, first, last, profileID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create employee",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			if email == "" || profileID == "" {
				return fmt.Errorf("--email and --profile required")
			}
			var hash string
			if password != "" {
				if hash, err = credential.Hash(password); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateEmployee(ctx, actorID, engine.EmployeeCreateOptions{
					ID:             id,
					FirstName:      first,
					LastName:       last,
					Email:          email,
					CredentialHash: hash,
					ProfileID:      profileID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "employee id (generated when empty)")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&first, "first", "", "first name")
	cmd.Flags().StringVar(&last, "last", "", "last name")
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id")
	return cmd
}

func employeeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List employees",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEmployees(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Profile"})
				for _, a := range items {
					name := strings.TrimSpace(a.FirstName + " " + a.LastName)
					profile := ""
					if a.ProfileID != nil {
						profile = *a.ProfileID
					}
					tw.AppendRow(table.Row{a.ID, a.Email, name, profile})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func employeeUpdateCmd() *cobra.Command {
	var email, password, first, last, profileID string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update employee",
		Long:  "Only the flags given are changed. Changing --profile is checked against what the acting account can grant.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			var changes engine.EmployeeChanges
			if cmd.Flags().Changed("email") {
				changes.Email = &email
			}
			if cmd.Flags().Changed("first") {
				changes.FirstName = &first
			}
			if cmd.Flags().Changed("last") {
				changes.LastName = &last
			}
			if cmd.Flags().Changed("profile") {
				changes.ProfileID = &profileID
			}
			if cmd.Flags().Changed("password") {
				hash, err := credential.Hash(password)
				if err != nil {
					return err
				}
				changes.CredentialHash = &hash
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateEmployee(ctx, actorID, args[0], changes)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "new email")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	cmd.Flags().StringVar(&first, "first", "", "new first name")
	cmd.Flags().StringVar(&last, "last", "", "new last name")
	cmd.Flags().StringVar(&profileID, "profile", "", "new profile id")
	return cmd
}

func employeeDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				deleted, err := e.DeleteEmployee(ctx, actorID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": deleted})
				}
				if !deleted {
					fmt.Println("nothing deleted")
					return nil
				}
				fmt.Printf("Deleted employee %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List assignable permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cat := e.PermissionCatalog()
				if viper.GetBool("json") {
					return printJSON(map[string]any{"resources": cat.Resources(), "permissions": nonNil(cat.Permissions())})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Permission", "Description"})
				for _, r := range cat.Resources() {
					for _, a := range r.Actions {
						tw.AppendRow(table.Row{r.Name + ":" + a.Name, a.Description})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	aud := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	aud.AddCommand(auditTailCmd())
	return aud
}

func auditTailCmd() *cobra.Command {
	var n int
	var before int64
	var actor, action, status, targetKind, targetID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.AuditLog(ctx, engine.AuditQuery{
					ActorID:    actor,
					Action:     action,
					Status:     status,
					TargetKind: targetKind,
					TargetID:   targetID,
					Before:     before,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Actor", "Action", "Target", "Status", "Details"})
				for _, ev := range entries {
					target := ev.TargetKind
					if ev.TargetID != "" {
						target += "/" + ev.TargetID
					}
					details := ""
					if len(ev.Details) > 0 {
						b, _ := json.Marshal(ev.Details)
						details = string(b)
					}
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.ActorID, ev.Action, target, ev.Status, details})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().Int64Var(&before, "before", 0, "only entries with id lower than this")
	cmd.Flags().StringVar(&actor, "actor", "", "actor id filter")
	cmd.Flags().StringVar(&action, "action", "", "action filter, e.g. profile.create")
	cmd.Flags().StringVar(&status, "status", "", "success or failure")
	cmd.Flags().StringVar(&targetKind, "target-kind", "", "target kind filter")
	cmd.Flags().StringVar(&targetID, "target-id", "", "target id filter")
	return cmd
}

func keyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys for the acting account",
		Long:  "API keys authenticate HTTP requests as the acting account (X-Api-Key header). Only the hash is stored.",
	}
	k.AddCommand(keyCreateCmd())
	k.AddCommand(keyListCmd())
	k.AddCommand(keyRevokeCmd())
	return k
}

func keyCreateCmd() *cobra.Command {
	var name string
	var save bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			secret, err := newAPIKey()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Actor(ctx, actorID); err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        "key-" + secret[:8],
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if save {
					envPath := filepath.Join(viper.GetString("workspace"), ".env")
					if err := setEnvValue(envPath, "TRIPAUTH_API_KEY", secret); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": actorID, "key": secret})
				}
				fmt.Printf("API key %s for %s:\n%s\n", key.ID, actorID, secret)
				fmt.Println("Store it now; it cannot be shown again.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	cmd.Flags().BoolVar(&save, "save", false, "write the key to the workspace .env as TRIPAUTH_API_KEY")
	return cmd
}

func keyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func keyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, actorID, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "tripauth.yml holds the permission catalog, the owner profile name, resolver limits and logging. Without the file the built-in defaults apply.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default tripauth.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate tripauth.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				_, err = cfg.PermissionCatalog()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("TRIPAUTH_JWT_SECRET is required for bearer auth")
			}
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:      secret,
					EnableDevLogin: devLogin,
					Logger:         rt.Log,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			rt.Log.WithField("addr", addr).WithField("base_path", basePath).Info("serving api")
			fmt.Printf("Serving Tripauth API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (email and password for a token)")
	return cmd
}

// --- helpers ---

func openRuntime(ctx context.Context) (app.Runtime, error) {
	return app.Open(ctx, viper.GetString("workspace"), viper.GetString("log-level"), viper.GetString("log-format"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func requireActorID() (string, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return "", fmt.Errorf("acting account not specified; use --actor-id or set TRIPAUTH_ACTOR_ID")
	}
	return id, nil
}

func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
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

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
