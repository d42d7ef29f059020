package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"overseer/internal/audit"
	"overseer/internal/config"
)

var verifyExport bool

var verifyCmd = &cobra.Command{
	Use:   "verify [audit-log.json]",
	Short: "Verify an exported audit log",
	Long: `Verify the integrity of an exported audit log.

The log must be a JSON array of audit records (or an object with an
"entries" array). Verification checks that every record carries a
signature, that per-session sequence numbers increase strictly, and that
the hash chain is unbroken. Exits non-zero on a deny decision.

With --export and a file argument, the local audit chain store is first
exported to that file, then verified.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte

		switch {
		case verifyExport:
			if len(args) == 0 {
				return fmt.Errorf("--export requires a destination file")
			}
			exported, err := exportAuditLog(args[0])
			if err != nil {
				return err
			}
			data = exported
		case len(args) == 1:
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}
			data = raw
		default:
			exported, err := exportAuditLog("")
			if err != nil {
				return err
			}
			data = exported
		}

		decision, err := audit.Verify(data)
		if err != nil {
			return fmt.Errorf("verify audit log: %w", err)
		}

		if decision.Allowed() {
			color.Green("ALLOW: audit log verified")
			return nil
		}

		color.Red("DENY: audit log failed verification")
		for _, reason := range decision.Reasons {
			fmt.Fprintf(os.Stderr, "  - %s\n", reason)
		}
		os.Exit(1)
		return nil
	},
}

// exportAuditLog reads the local chain store and renders it as a JSON array.
// When path is non-empty the JSON is also written there.
func exportAuditLog(path string) ([]byte, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	signer, err := audit.NewChainSigner(auditDBPath(cfg), "cli-verify")
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	defer signer.Close()

	entries, err := signer.Entries()
	if err != nil {
		return nil, fmt.Errorf("read audit entries: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode audit entries: %w", err)
	}

	if path != "" {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("Exported %d audit records to %s\n", len(entries), path)
	}
	return data, nil
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyExport, "export", false, "Export the local audit chain before verifying")
}
