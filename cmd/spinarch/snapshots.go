package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ubunteroz/spinarch/framework/devnet"
)

func snapshotsCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List the snapshots of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.projectID == "" {
				return errors.New("--project-id is required, only persistent projects have snapshots")
			}

			home := devnet.DefaultConfig().Home
			if cmd.Flags().Changed("home") {
				home = root.home
			}
			project, err := devnet.NewProject(home, root.projectID, devnet.DefaultChainID)
			if err != nil {
				return err
			}

			snaps, err := devnet.ListSnapshots(project)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintf(out, "no snapshots for %s in %s\n", project.ID, project.SnapshotDir())
				return nil
			}
			dim := lipgloss.NewRenderer(out).NewStyle().Faint(true)
			for _, s := range snaps {
				fmt.Fprintf(out, "%s  %s\n", s.Name, dim.Render(s.CreatedAt.Format("2006-01-02 15:04:05")))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&root.projectID, "project-id", "p", "", "Project id")
	cmd.Flags().StringVar(&root.home, "home", devnet.DefaultConfig().Home, "Root directory of project state")
	return cmd
}
