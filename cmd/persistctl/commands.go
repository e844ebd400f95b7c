package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edirooss/persistd/internal/client"
	"github.com/edirooss/persistd/internal/config"
	"github.com/edirooss/persistd/internal/protocol"
)

type socketResolver func() (string, error)

func dial(resolve socketResolver) (*client.Client, error) {
	path, err := resolve()
	if err != nil {
		return nil, err
	}
	return client.Dial(path)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the daemon's home directory layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := config.NewLayout()
			if err != nil {
				return err
			}
			if err := layout.EnsureHome(); err != nil {
				return err
			}
			if err := layout.EnsureSubdirs(); err != nil {
				return err
			}
			fmt.Println(layout.Home)
			return nil
		},
	}
}

func newListCmd(resolve socketResolver) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every managed process",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.List()
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newStartCmd(resolve socketResolver) *cobra.Command {
	var name, cwd string
	var env []string

	cmd := &cobra.Command{
		Use:   "start NAME -- CMD [ARGS...]",
		Short: "Start a new managed process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = args[0]
				args = args[1:]
			}
			if len(args) == 0 {
				return fmt.Errorf("no command given")
			}

			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Start(protocol.StartRequest{
				Name:   name,
				Cmd:    args,
				Cwd:    cwd,
				Env:    parseEnvPairs(env),
				Status: protocol.StatusRunning,
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "process name (default: first positional arg)")
	cmd.Flags().StringVar(&cwd, "cwd", mustGetwd(), "working directory for the child")
	cmd.Flags().StringArrayVar(&env, "env", nil, "KEY=VALUE, repeatable")
	return cmd
}

func newStopCmd(resolve socketResolver) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [NAME...]",
		Short: "Stop one or more processes (all, if none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Stop(filtersOrNil(args))
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newRestartCmd(resolve socketResolver) *cobra.Command {
	var env []string

	cmd := &cobra.Command{
		Use:   "restart [NAME...]",
		Short: "Restart one or more processes (all, if none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			req := protocol.RestartRequest{Filters: filtersOrNil(args)}
			if len(env) > 0 {
				pairs := parseEnvPairs(env)
				req.Env = &pairs
			}

			out, err := c.Restart(req)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringArrayVar(&env, "env", nil, "KEY=VALUE, repeatable; replaces the stored environment before restart")
	return cmd
}

func newInfoCmd(resolve socketResolver) *cobra.Command {
	return &cobra.Command{
		Use:   "info [NAME...]",
		Short: "Show detailed info for one or more processes (all, if none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Info(filtersOrNil(args))
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newDeleteCmd(resolve socketResolver) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [NAME...]",
		Short: "Stop and forget one or more processes (all, if none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Delete(filtersOrNil(args))
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newDumpCmd(resolve socketResolver) *cobra.Command {
	return &cobra.Command{
		Use:   "dump [NAME...]",
		Short: "Dump specs (optionally filtered) as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			specs, err := c.Dump(filtersOrNil(args))
			if err != nil {
				return err
			}
			return printJSON(specs)
		},
	}
}

func newRestoreCmd(resolve socketResolver) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "restore -f FILE",
		Short: "Restore a previously dumped set of specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var specs []protocol.ProcessSpec
			if err := json.Unmarshal(b, &specs); err != nil {
				return err
			}

			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Restore(specs)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to a dumped specs JSON file")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newLogsCmd(resolve socketResolver) *cobra.Command {
	var lines int
	var stream bool
	var source string

	cmd := &cobra.Command{
		Use:   "logs [NAME...]",
		Short: "Show and optionally follow logs for one or more processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			var sourceFilter *protocol.LogSource
			if source != "" {
				s := protocol.LogSource(source)
				sourceFilter = &s
			}

			return c.Logs(protocol.LogsRequest{
				Filters:      filtersOrNil(args),
				SourceFilter: sourceFilter,
				Stream:       stream,
				Lines:        lines,
			}, func(data protocol.LogsResponseData) error {
				if data.Entry != nil {
					fmt.Printf("%s/%s: %s\n", data.Entry.Name, data.Entry.Source, data.Entry.Msg)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 10, "trailing history lines to show")
	cmd.Flags().BoolVar(&stream, "follow", false, "keep streaming new log lines")
	cmd.Flags().StringVar(&source, "source", "", "restrict to stdout or stderr")
	return cmd
}

func newPruneCmd(resolve socketResolver) *cobra.Command {
	var stopped bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove orphaned pid/log files",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Prune(stopped)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().BoolVar(&stopped, "stopped", false, "keep files belonging to stopped processes (by default they are removed too)")
	return cmd
}

func newVersionCmd(resolve socketResolver) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the daemon's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Version()
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newKillCmd(resolve socketResolver) *cobra.Command {
	return &cobra.Command{
		Use:   "kill",
		Short: "Terminate the daemon process",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(resolve)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Kill()
		},
	}
}

func filtersOrNil(args []string) *[]string {
	if len(args) == 0 {
		return nil
	}
	return &args
}

func parseEnvPairs(kvs []string) []protocol.EnvPair {
	out := make([]protocol.EnvPair, 0, len(kvs))
	for _, kv := range kvs {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out = append(out, protocol.EnvPair{Key: kv[:i], Value: kv[i+1:]})
				break
			}
		}
	}
	return out
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
