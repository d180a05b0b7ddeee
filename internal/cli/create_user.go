package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/auth"
	"github.com/mrlokans/bookshop/internal/config"
	"github.com/mrlokans/bookshop/internal/database"
	"github.com/mrlokans/bookshop/internal/entities"
)

// PasswordEnv lets scripts pass the password without it showing up in ps.
const PasswordEnv = "BOOKSHOP_PASSWORD"

// CreateUserCommand creates an account with any role. It is the only way to
// create uploader and superadmin accounts.
type CreateUserCommand struct {
	DatabasePath string
	Username     string
	Email        string
	Password     string
	Role         string
	WithToken    bool
}

func NewCreateUserCommand() *CreateUserCommand {
	return &CreateUserCommand{}
}

func (cmd *CreateUserCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the database file")
	fs.StringVar(&cmd.Username, "username", "", "Username (required)")
	fs.StringVar(&cmd.Email, "email", "", "Email address (required)")
	fs.StringVar(&cmd.Password, "password", "", "Password (or set "+PasswordEnv+")")
	fs.StringVar(&cmd.Role, "role", string(entities.UserRoleCustomer), "Role: customer, admin or superadmin")
	fs.BoolVar(&cmd.WithToken, "token", false, "Also generate an API token and print it")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s create-user -username <name> -email <email> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Create a user account directly in the database.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Bootstrap the first superadmin:\n")
		fmt.Fprintf(os.Stderr, "  %s=secret %s create-user -username root -email root@example.com -role superadmin\n\n", PasswordEnv, os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Create an uploader with an API token:\n")
		fmt.Fprintf(os.Stderr, "  %s create-user -username press -email press@example.com -password secret -role admin -token\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if cmd.Password == "" {
		cmd.Password = os.Getenv(PasswordEnv)
	}
	if cmd.Username == "" || cmd.Email == "" {
		return errors.New("required flags -username and -email not provided")
	}
	if cmd.Password == "" {
		return fmt.Errorf("password not provided: use -password or %s", PasswordEnv)
	}
	return nil
}

func (cmd *CreateUserCommand) Run() error {
	db, err := database.Open(cmd.DatabasePath, database.Options{})
	if err != nil {
		return err
	}
	defer db.Close()

	svc := auth.NewService(db.DB, config.NewConfig().Auth, zap.NewNop())
	return cmd.create(context.Background(), svc)
}

func (cmd *CreateUserCommand) create(ctx context.Context, svc *auth.Service) error {
	user, err := svc.CreateUser(ctx, auth.NewUser{
		Username: cmd.Username,
		Email:    cmd.Email,
		Password: cmd.Password,
		Role:     entities.UserRole(cmd.Role),
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Printf("Created %s %q (id %d)\n", user.Role, user.Username, user.ID)

	if cmd.WithToken {
		token, err := svc.GenerateToken(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Printf("API token: %s\n", token)
	}
	return nil
}
