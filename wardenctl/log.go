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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var followLog bool

var logCmd = &cobra.Command{
	Use:   "log [program]",
	Short: "Show retained log output (daemon log if no program given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		ctx, cancel := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		recs, etag, err := c.GetLog(ctx, name)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			fmt.Println(rec.Text)
		}
		if !followLog {
			return nil
		}
		for {
			recs, etag, err = c.WatchLog(ctx, name, etag)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			for _, rec := range recs {
				fmt.Println(rec.Text)
			}
		}
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream state change events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		ch, err := c.Events(ctx)
		if err != nil {
			return err
		}
		for ev := range ch {
			fmt.Printf("%s %s %s",
				ev.Time.Local().Format("15:04:05"), ev.Name, ev.State)
			if ev.Pid != 0 {
				fmt.Printf(" pid=%d", ev.Pid)
			}
			if ev.Reason != "" {
				fmt.Printf(" (%s)", ev.Reason)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	logCmd.Flags().BoolVarP(&followLog, "follow", "f", false,
		"keep following new output")
}
