// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsentinel/dbsentinel/internal/logging"
	"github.com/dbsentinel/dbsentinel/pkg/differ"
)

func diffCmd() *cobra.Command {
	var sourceFile, targetFile, outFile string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare two schema snapshots and write a structural diff",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()

			source, err := readSnapshotFile(sourceFile)
			if err != nil {
				return err
			}
			target, err := readSnapshotFile(targetFile)
			if err != nil {
				return err
			}

			diff := differ.Compare(source.Schema, target.Schema, source.ID, target.ID)

			if outFile == "" {
				outFile = fmt.Sprintf("%s-%s.diff.json", source.ID, target.ID)
			}
			if err := writeJSONFile(outFile, diff); err != nil {
				return err
			}

			log.LogDiffComputed(source.ID, target.ID, diff.TotalChanges(), diff.HasBreakingChanges())
			fmt.Println(outFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceFile, "source", "", "Source snapshot file")
	cmd.Flags().StringVar(&targetFile, "target", "", "Target snapshot file")
	cmd.Flags().StringVar(&outFile, "out", "", "Output file path (default: <source>-<target>.diff.json)")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("target")
	return cmd
}

func readDiffFile(path string) (*differ.SchemaDiff, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var diff differ.SchemaDiff
	if err := json.Unmarshal(b, &diff); err != nil {
		return nil, fmt.Errorf("parsing diff file %q: %w", path, err)
	}
	return &diff, nil
}
