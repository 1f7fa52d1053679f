// Copyright 2024 The Warden Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warden-proc/warden/rest"
)

var statusCmd = &cobra.Command{
	Use:   "status [program...]",
	Short: "Show program status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		names := args
		if len(names) == 0 {
			if names, err = c.Programs(ctx); err != nil {
				return err
			}
		}
		infos := make([]*rest.ProgramInfo, 0, len(names))
		for _, n := range names {
			info, err := c.GetProgram(ctx, n)
			if err != nil {
				return fmt.Errorf("%s: %w", n, err)
			}
			infos = append(infos, info)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSTATE\tPID\tRESTARTS\tSTATUS")
		for _, info := range infos {
			pid := "-"
			if info.Pid != 0 {
				pid = fmt.Sprintf("%d", info.Pid)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
				info.Name, info.State, pid, info.Restarts, info.Status)
		}
		return tw.Flush()
	},
}

var programsCmd = &cobra.Command{
	Use:   "programs",
	Short: "List program names in start order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		names, err := c.Programs(context.Background())
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show daemon details",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		info, err := c.Info(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Name:     %s\n", info.Name)
		fmt.Printf("Created:  %s\n", info.CreateTime.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated:  %s\n", info.UpdateTime.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}
