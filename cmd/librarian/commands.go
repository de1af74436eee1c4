package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/libris/libris/internal/app"
	"github.com/libris/libris/internal/config"
	"github.com/libris/libris/internal/repository"
	"github.com/libris/libris/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCommand(logger *logrus.Logger) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:          "librarian",
		Short:        "Administer a Libris deployment",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.AddCommand(
		newInitTableCommand(logger),
		newCreateUserCommand(logger),
		newSeedCommand(logger),
		newExportCommand(logger),
	)
	return cmd
}

// openApp loads configuration from the environment and connects to the backends.
func openApp(cmd *cobra.Command, logger *logrus.Logger) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, logger)
}

func newInitTableCommand(logger *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init-table",
		Short: "Create the DynamoDB table if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client, err := app.NewDynamoDBClient(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			created, err := repository.EnsureTable(cmd.Context(), client, cfg.DynamoDB.TableName, logger)
			if err != nil {
				return err
			}
			if created {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "created table %s\n", cfg.DynamoDB.TableName)
			} else {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "table %s already exists\n", cfg.DynamoDB.TableName)
			}
			return err
		},
	}
}

func newCreateUserCommand(logger *logrus.Logger) *cobra.Command {
	var in service.RegisterInput
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Register an account with its OTP secret and member profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				in.Password = os.Getenv("LIBRIS_PASSWORD")
			}
			a, err := openApp(cmd, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			reg, err := a.UserService.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:       %s (%s)\n", reg.User.Username, reg.User.ID)
			fmt.Fprintf(out, "superuser:  %t\n", reg.User.IsSuperuser)
			if reg.Member == nil {
				return nil
			}
			_, err = fmt.Fprintf(out, "member:     %s at library %s\n", reg.Member.ID, reg.Member.LibraryID)
			return err
		},
	}
	cmd.Flags().StringVarP(&in.Username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&in.Email, "email", "e", "", "address login codes are mailed to")
	cmd.Flags().StringVarP(&in.Password, "password", "p", "", "account password (defaults to $LIBRIS_PASSWORD)")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "member first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "member last name")
	cmd.Flags().BoolVar(&in.IsSuperuser, "superuser", false, "grant superuser privileges")
	cmd.MarkFlagRequired("username")
	return cmd
}

func newSeedCommand(logger *logrus.Logger) *cobra.Command {
	opts := service.DefaultSeedOptions()
	var seed int64
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate demo libraries, genres, books, members and loans",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seed != 0 {
				opts.Rand = rand.New(rand.NewSource(seed))
			}
			a, err := openApp(cmd, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := service.NewSeeder(a.Catalog, logger).Seed(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "libraries=%d genres=%d books=%d members=%d loans=%d\n",
				res.Libraries, res.Genres, res.Books, res.Members, res.Loans)
			return err
		},
	}
	cmd.Flags().IntVar(&opts.Members, "members", opts.Members, "minimum number of members")
	cmd.Flags().IntVar(&opts.Loans, "loans", opts.Loans, "minimum number of loans")
	cmd.Flags().IntVar(&opts.MinBooksPerShelf, "min-books", opts.MinBooksPerShelf, "fewest copies per genre and library")
	cmd.Flags().IntVar(&opts.MaxBooksPerShelf, "max-books", opts.MaxBooksPerShelf, "most copies per genre and library")
	cmd.Flags().DurationVar(&opts.LoanWindow, "loan-window", opts.LoanWindow, "how far back loan dates reach")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed for reproducible data")
	return cmd
}

func newExportCommand(logger *logrus.Logger) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:       "export {libraries|genres|books|members|loans}",
		Short:     "Write one entity type as CSV",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"libraries", "genres", "books", "members", "loans"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			start := time.Now()
			var n int
			ctx := cmd.Context()
			switch args[0] {
			case "libraries":
				n, err = a.Catalog.Libraries.Export(ctx, out)
			case "genres":
				n, err = a.Catalog.Genres.Export(ctx, out)
			case "books":
				n, err = a.Catalog.Books.Export(ctx, out)
			case "members":
				n, err = a.Catalog.Members.Export(ctx, out)
			case "loans":
				n, err = a.Catalog.Loans.Export(ctx, out)
			}
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{"entity": args[0], "rows": n, "duration": time.Since(start).String()}).Info("Export finished")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	return cmd
}
