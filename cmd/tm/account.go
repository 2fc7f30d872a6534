package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmate/internal/api"
	"taskmate/internal/app"
	"taskmate/internal/connection"
	"taskmate/internal/domain"
	"taskmate/internal/usercontext"
	"taskmate/internal/validate"
)

func loginCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the session in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := prompt("email", email)
			if err != nil {
				return err
			}
			password, err := prompt("password", viper.GetString("password"))
			if err != nil {
				return err
			}
			req := domain.LoginRequest{Email: strings.TrimSpace(email), Password: password}
			if err := validate.Login(req); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Login(ctx, req); err != nil {
					return err
				}
				uc := a.Users.Context()
				fmt.Printf("logged in as %s (%s)\n", displayName(uc), roleLabel(uc.Role))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().String("password", "", "password (env TASKMATE_PASSWORD; prompted when empty)")
	_ = viper.BindPFlag("password", cmd.Flags().Lookup("password"))
	return cmd
}

func registerCmd() *cobra.Command {
	var req domain.RegisterRequest
	var confirm string
	var agent bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.Password, err = prompt("password", req.Password); err != nil {
				return err
			}
			if confirm, err = prompt("confirm password", confirm); err != nil {
				return err
			}
			req.TypeID = domain.UserTypeCommon
			if agent {
				req.TypeID = domain.UserTypeAgent
			}
			if err := validate.Registration(req, confirm); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Session.Register(ctx, req)
				if err != nil {
					var apiErr *api.APIError
					if errors.As(err, &apiErr) && apiErr.Message != "" {
						if len(apiErr.Errors) > 0 {
							return fmt.Errorf("%s: %s", apiErr.Message, strings.Join(apiErr.Errors, "; "))
						}
						return errors.New(apiErr.Message)
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("account %d created for %s; run tm login\n", res.UserID, res.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "user name")
	cmd.Flags().StringVar(&req.Email, "email", "", "email")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "phone with area code")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (prompted when empty)")
	cmd.Flags().StringVar(&confirm, "confirm-password", "", "password confirmation (prompted when empty)")
	cmd.Flags().BoolVar(&agent, "agent", false, "register as an agent")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session and every per-user setting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Logging out must work with an unreachable backend, so the
			// session is not validated first.
			a, err := app.New(cmd.Context(), cfg, app.Options{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer a.Close()
			a.Logout()
			fmt.Println("logged out")
			return nil
		},
	}
}

func roleLabel(r domain.Role) string {
	switch r {
	case domain.RoleAgent:
		return "agent"
	case domain.RoleCommon:
		return "common"
	default:
		return "unknown role"
	}
}

func displayName(uc usercontext.UserContext) string {
	if uc.Profile == nil {
		return fmt.Sprintf("user %d", uc.UserID)
	}
	return uc.Profile.Username
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user and who is being viewed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				viewed := a.Facade.Viewed().Value()
				uc := viewed.Context
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"user":        uc.Profile,
						"role":        uc.Role,
						"tags":        uc.Tags,
						"overseeing":  viewed.OverseeingUserID,
						"overseen":    a.Oversee.Name(),
						"taskUserId":  viewed.TaskUserID(),
						"preferences": map[string]any{"view": a.Views.Current()},
					})
				}
				tw := newTable(table.Row{"Field", "Value"})
				tw.AppendRow(table.Row{"ID", uc.UserID})
				tw.AppendRow(table.Row{"User", displayName(uc)})
				if uc.Profile != nil {
					tw.AppendRow(table.Row{"Email", uc.Profile.Email})
				}
				tw.AppendRow(table.Row{"Role", roleLabel(uc.Role)})
				tw.AppendRow(table.Row{"Tags", len(uc.Tags)})
				if viewed.IsOverseen {
					tw.AppendRow(table.Row{"Overseeing", fmt.Sprintf("%s (%d)", a.Oversee.Name(), viewed.OverseeingUserID)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func profileCmd() *cobra.Command {
	var req domain.UpdateProfileRequest
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update the logged-in user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			errs := validate.FieldErrors{}
			if req.Email != "" && !validate.Email(req.Email) {
				errs.Add("email", "invalid email")
			}
			if req.Phone != "" && !validate.Phone(req.Phone) {
				errs.Add("telefone", "invalid phone")
			}
			if req.NewPassword != "" {
				for _, p := range validate.Password(req.NewPassword) {
					errs.Add("novaSenha", p)
				}
			}
			if err := errs.Err(); err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.API.UpdateProfile(ctx, a.Users.Context().UserID, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("profile of %s updated\n", p.Username)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&req.Email, "email", "", "email")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "phone")
	cmd.Flags().StringVar(&req.NewPassword, "new-password", "", "new password")
	return cmd
}

func requireAgent(a *app.App) error {
	if !a.Users.Context().IsAgent() {
		return errors.New("only agents can do this")
	}
	return nil
}

func requireCommon(a *app.App) error {
	if !a.Users.Context().IsCommon() {
		return errors.New("only common users can do this")
	}
	return nil
}

func overseeCmd() *cobra.Command {
	ov := &cobra.Command{
		Use:   "oversee",
		Short: "Act on the tasks of a connected user (agents)",
	}
	ov.AddCommand(&cobra.Command{
		Use:   "set <user-id>",
		Short: "Oversee a connected user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requireAgent(a); err != nil {
					return err
				}
				if err := a.Oversee.SetRaw(args[0], ""); err != nil {
					return err
				}
				name, err := a.Facade.ResolveOverseenName(ctx)
				if err != nil {
					a.Facade.ClearOverseeing()
					return err
				}
				fmt.Printf("now overseeing %s (%d)\n", name, a.Oversee.Current())
				return nil
			})
		},
	})
	ov.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Go back to your own tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				a.Facade.ClearOverseeing()
				fmt.Println("oversee cleared")
				return nil
			})
		},
	})
	ov.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the overseen user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !a.Oversee.IsOverseeing() {
					fmt.Println("not overseeing anyone")
					return nil
				}
				fmt.Printf("overseeing %s (%d)\n", a.Oversee.Name(), a.Oversee.Current())
				return nil
			})
		},
	})
	return ov
}

func printUsers(users []domain.ConnectedUser) error {
	if viper.GetBool("json") {
		return printJSON(users)
	}
	tw := newTable(table.Row{"ID", "User", "Email"})
	for _, u := range users {
		tw.AppendRow(table.Row{u.ID, u.Username, u.Email})
	}
	tw.Render()
	return nil
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the users you oversee (agents)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requireAgent(a); err != nil {
					return err
				}
				users, err := a.Codes.ManagedUsers(ctx)
				if err != nil {
					return err
				}
				return printUsers(users)
			})
		},
	}
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents connected to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agents, err := a.Codes.Agents(ctx)
				if err != nil {
					return err
				}
				return printUsers(agents)
			})
		},
	}
}

func codeCmd() *cobra.Command {
	code := &cobra.Command{
		Use:   "code",
		Short: "Connection codes for agents (common users)",
	}
	var watchGenerated bool
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new connection code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requireCommon(a); err != nil {
					return err
				}
				saved, err := a.Codes.Generate(ctx)
				if err != nil {
					return err
				}
				return showCode(ctx, saved, watchGenerated)
			})
		},
	}
	generate.Flags().BoolVar(&watchGenerated, "watch", false, "keep counting down until the code expires")
	code.AddCommand(generate)

	var watchShown bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the last generated code if it is still valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				saved, found := a.Codes.Restore()
				if !found {
					fmt.Println("no valid code; run tm code generate")
					return nil
				}
				return showCode(ctx, saved, watchShown)
			})
		},
	}
	show.Flags().BoolVar(&watchShown, "watch", false, "keep counting down until the code expires")
	code.AddCommand(show)
	return code
}

func showCode(ctx context.Context, saved connection.SavedCode, watch bool) error {
	if viper.GetBool("json") {
		return printJSON(saved)
	}
	if !watch {
		fmt.Printf("code %s expires in %s\n", saved.Code, connection.FormatRemaining(saved.Remaining(time.Now())))
		return nil
	}
	done := make(chan struct{})
	cd := connection.StartCountdown(ctx, saved.ExpiresAt, func(t connection.Tick) {
		fmt.Printf("\rcode %s expires in %-8s", saved.Code, t.Display)
		if t.Expired {
			close(done)
		}
	})
	defer cd.Stop()
	select {
	case <-done:
	case <-ctx.Done():
	}
	fmt.Println()
	return nil
}

func connectCmd() *cobra.Command {
	var oversee bool
	cmd := &cobra.Command{
		Use:   "connect <code>",
		Short: "Redeem a connection code (agents)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requireAgent(a); err != nil {
					return err
				}
				u, err := a.Codes.Connect(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("connected to %s (%d)\n", u.Username, u.ID)
				if oversee {
					if err := a.Facade.SetOverseeing(u.ID, u.Username); err != nil {
						return err
					}
					fmt.Printf("now overseeing %s\n", u.Username)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&oversee, "oversee", false, "oversee the connected user right away")
	return cmd
}

func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <id>",
		Short: "Remove a connection: a user id for agents, an agent id for common users",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			other, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || other <= 0 {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return withSession(cmd.Context(), func(ctx context.Context, a *app.App) error {
				uc := a.Users.Context()
				agentID, userID := other, uc.UserID
				if uc.IsAgent() {
					agentID, userID = uc.UserID, other
				}
				if err := a.Codes.Disconnect(ctx, agentID, userID); err != nil {
					return err
				}
				if uc.IsAgent() && a.Oversee.Current() == other {
					a.Facade.ClearOverseeing()
				}
				fmt.Println("disconnected")
				return nil
			})
		},
	}
}
