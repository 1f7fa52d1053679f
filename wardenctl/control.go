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

	"github.com/spf13/cobra"

	"github.com/warden-proc/warden/rest"
)

func actionRunE(verb string, fn func(*rest.Client, context.Context, string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		for _, name := range args {
			if err := fn(c, ctx, name); err != nil {
				return fmt.Errorf("%s %s: %w", verb, name, err)
			}
			fmt.Printf("%s: %s\n", name, verb)
		}
		return nil
	}
}

var startCmd = &cobra.Command{
	Use:   "start <program...>",
	Short: "Start programs",
	Args:  cobra.MinimumNArgs(1),
	RunE: actionRunE("started", func(c *rest.Client, ctx context.Context, name string) error {
		return c.StartProgram(ctx, name)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop <program...>",
	Short: "Stop programs",
	Args:  cobra.MinimumNArgs(1),
	RunE: actionRunE("stopped", func(c *rest.Client, ctx context.Context, name string) error {
		return c.StopProgram(ctx, name)
	}),
}

var restartCmd = &cobra.Command{
	Use:   "restart <program...>",
	Short: "Restart programs",
	Args:  cobra.MinimumNArgs(1),
	RunE: actionRunE("restarted", func(c *rest.Client, ctx context.Context, name string) error {
		return c.RestartProgram(ctx, name)
	}),
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop all programs and exit the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Shutdown(context.Background()); err != nil {
			return err
		}
		fmt.Println("shutdown requested")
		return nil
	},
}
