package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xelth-com/dairysync/internal/config"
	"github.com/xelth-com/dairysync/internal/eip"
	"github.com/xelth-com/dairysync/internal/ingest"
	"github.com/xelth-com/dairysync/internal/models"
	"github.com/xelth-com/dairysync/internal/registry"
	"github.com/xelth-com/dairysync/internal/utils"
)

// decodeFlags are shared by ingest and decode
type decodeFlags struct {
	minLineLength int
	endMarker     string
}

func (f *decodeFlags) register(cmd *cobra.Command) {
	defaults := eip.DefaultOptions()
	cmd.Flags().IntVar(&f.minLineLength, "min-line-length", defaults.MinLineLength, "shortest data line that is decoded")
	cmd.Flags().StringVar(&f.endMarker, "end-marker", defaults.EndMarker, "line that terminates an export")
}

func (f *decodeFlags) options() eip.Options {
	return eip.Options{MinLineLength: f.minLineLength, EndMarker: f.endMarker}
}

func newIngestCmd() *cobra.Command {
	var (
		flags      decodeFlags
		employeeID string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest EIP export files into the local milkData collection",
		Long: `Decodes each file and upserts its records into the node's local milkData
collection. The node must not be running: it holds the collection open.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			// local only; replication is the node's job
			local := *cfg
			local.Remote = config.RemoteConfig{}
			reg, err := registry.Open(&local, []string{registry.MilkData}, utils.NewRolePolicy(), nil)
			if err != nil {
				return err
			}
			defer reg.Close()

			principal := models.SystemPrincipal
			principal.EmployeeID = employeeID
			pipeline := ingest.NewPipeline(reg, ingest.WithDecodeOptions(flags.options()))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, path := range args {
				res, err := pipeline.IngestFile(context.Background(), principal, path)
				if err != nil {
					return err
				}
				if err := enc.Encode(map[string]interface{}{"file": path, "result": res}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&employeeID, "employee", "", "employee id stamped on every record")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	var flags decodeFlags

	cmd := &cobra.Command{
		Use:   "decode <file>",
		Short: "Decode an EIP export and print its records as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res := eip.DecodeWithOptions(string(data), flags.options())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	flags.register(cmd)
	return cmd
}
