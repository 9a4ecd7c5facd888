package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/Iron-Ham/selfvisor/internal/credential"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect registered users",
	Long: `Inspect the credential records of registered users.

Secrets are masked; only whether they are present is shown.`,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	Args:  cobra.NoArgs,
	RunE:  runUsersList,
}

var usersShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show one user's credential record",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersShow,
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersShowCmd)
}

func openStore() (*credential.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dir, err := usersDir(cfg)
	if err != nil {
		return nil, err
	}
	return credential.NewFileStore(dir, credential.WithFileName(cfg.Worker.CredentialFile)), nil
}

func runUsersList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	ids, err := store.ListAll()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintf(out, "No users registered in %s\n", store.Root())
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tPHONE\tCODE\tPASSWORD\tSTATUS")
	for _, id := range ids {
		rec, err := store.Read(id)
		if err != nil {
			fmt.Fprintf(tw, "%d\t-\t-\t-\tunreadable: %v\n", id, err)
			continue
		}
		status := string(rec.LoginStatus)
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			id,
			rec.Phone,
			presence(rec.HasCode()),
			passwordState(rec),
			status,
		)
	}
	return tw.Flush()
}

func runUsersShow(cmd *cobra.Command, args []string) error {
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("invalid user id %q: must be a positive integer", args[0])
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	rec, err := store.Read(userID)
	if err != nil {
		return fmt.Errorf("failed to read user %d: %w", userID, err)
	}

	data, err := yaml.Marshal(rec.Redacted())
	if err != nil {
		return fmt.Errorf("failed to render record: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n", store.Path(userID))
	_, err = out.Write(data)
	return err
}

func presence(ok bool) string {
	if ok {
		return "set"
	}
	return "-"
}

func passwordState(rec *credential.Record) string {
	switch {
	case rec.HasPassword():
		return "set"
	case rec.WantsPassword():
		return "needed"
	default:
		return "-"
	}
}
