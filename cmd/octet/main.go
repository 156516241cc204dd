// Command octet is a thin demo CLI over the storage engine: one process
// invocation per operation, reopening the store at the given data
// directory each time. It is not the interactive command parser or the
// socket server described as collaborators of the core — just enough
// surface to insert, fetch, and inspect records from a shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lildannita/octet"
	"github.com/lildannita/octet/internal/logging"
)

var (
	dataDir  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "octet",
		Short: "Durable key-value storage engine",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./octet-data", "data directory for the journal and snapshot")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(insertCmd, getCmd, updateCmd, removeCmd, snapshotCmd, statsCmd)
}

func openStore() (*octet.Storage, *zap.Logger, error) {
	logger, err := logging.New(logLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	s, err := octet.Open(dataDir, octet.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return s, logger, nil
}

var insertCmd = &cobra.Command{
	Use:   "insert [value]",
	Short: "Insert a new record and print its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.Insert([]byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Fetch a record by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		v, ok := s.Get(args[0])
		if !ok {
			fmt.Println("not found")
			return nil
		}
		fmt.Println(string(v))
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [id] [value]",
	Short: "Replace the value stored at id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ok, err := s.Update(args[0], []byte(args[1]))
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Delete a record by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ok, err := s.Remove(args[0])
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Force an immediate snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ok, err := s.CreateSnapshot()
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the current record count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Printf("entries: %d\n", s.EntriesCount())
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
