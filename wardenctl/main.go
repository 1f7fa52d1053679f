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

// wardenctl is the command line control tool for wardend.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warden-proc/warden/rest"
)

var (
	address  string
	userPass string
)

var rootCmd = &cobra.Command{
	Use:           "wardenctl",
	Short:         "Control a running wardend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func newClient() (*rest.Client, error) {
	c := rest.NewClient(nil, address)
	if userPass != "" {
		u, p, ok := strings.Cut(userPass, ":")
		if !ok {
			return nil, fmt.Errorf("bad credentials, want user:pass")
		}
		c.SetAuth(u, p)
	}
	return c, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&address, "address", "a",
		"http://127.0.0.1:9001", "daemon address")
	rootCmd.PersistentFlags().StringVarP(&userPass, "user", "u",
		"", "credentials as user:pass")

	rootCmd.AddCommand(statusCmd, infoCmd, programsCmd,
		startCmd, stopCmd, restartCmd, shutdownCmd,
		logCmd, eventsCmd, topCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wardenctl: %v\n", err)
		os.Exit(1)
	}
}
