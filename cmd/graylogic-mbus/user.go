package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-mbus/internal/auth"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/logging"
)

// generatedPasswordBytes is the entropy of a password generated by user add.
const generatedPasswordBytes = 12

func newUserCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserAddCmd(configPath), newUserListCmd(configPath))
	return cmd
}

type userAddOptions struct {
	username    string
	displayName string
	role        string
	password    string
}

func newUserAddCmd(configPath *string) *cobra.Command {
	var opts userAddOptions

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user account",
		Long:  "Creates a user. Without --password a random password is generated and printed once.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUsers(cmd.Context(), *configPath, func(repo auth.UserRepository) error {
				return addUser(cmd.Context(), repo, opts, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&opts.username, "username", "", "login name (required)")
	cmd.Flags().StringVar(&opts.displayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&opts.role, "role", string(auth.RoleUser), "role: user, admin or owner")
	cmd.Flags().StringVar(&opts.password, "password", "", "password (generated when empty)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newUserListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUsers(cmd.Context(), *configPath, func(repo auth.UserRepository) error {
				return listUsers(cmd.Context(), repo, cmd.OutOrStdout())
			})
		},
	}
}

// withUsers opens the configured database for the duration of fn.
func withUsers(ctx context.Context, configPath string, fn func(auth.UserRepository) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"}, version)

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI session

	return fn(auth.NewUserRepository(db.DB))
}

func addUser(ctx context.Context, repo auth.UserRepository, opts userAddOptions, out io.Writer) error {
	password := opts.password
	generated := password == ""
	if generated {
		raw := make([]byte, generatedPasswordBytes)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
		password = hex.EncodeToString(raw)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user := &auth.User{
		Username:     opts.username,
		DisplayName:  opts.displayName,
		PasswordHash: hash,
		Role:         auth.Role(opts.role),
		IsActive:     true,
	}
	if err := repo.Create(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	fmt.Fprintf(out, "created user %s (%s, role %s)\n", user.Username, user.ID, user.Role)
	if generated {
		fmt.Fprintf(out, "password: %s\n", password)
	}
	return nil
}

func listUsers(ctx context.Context, repo auth.UserRepository, out io.Writer) error {
	users, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tROLE\tACTIVE")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", u.ID, u.Username, u.Role, u.IsActive)
	}
	return tw.Flush()
}
