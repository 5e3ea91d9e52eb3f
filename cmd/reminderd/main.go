// Command reminderd runs the reminder scanner and notification API, and
// hosts the terminal inbox.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/nhle/reminders/internal/model"
)

const usage = `usage: reminderd <command> [flags]

commands:
  serve     run the scheduled scanner and the HTTP API
  scan      run a single scan and print the result
  inbox     open the terminal inbox for an account
  migrate   apply the relational schema
  seed      insert a demo account, delegate and reminders
  smtp-password
            store the SMTP password in the system keyring
`

type command func(args []string, logger *log.Logger) error

var commands = map[string]command{
	"serve":   runServe,
	"scan":    runScan,
	"inbox":   runInbox,
	"migrate": runMigrate,
	"seed":    runSeed,

	"smtp-password": runSMTPPassword,
}

func main() {
	logger := log.New(os.Stdout, "[reminderd] ", log.LstdFlags|log.Lshortfile)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	name := os.Args[1]
	run, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	if err := run(os.Args[2:], logger); err != nil {
		logger.Fatalf("%s: %v", name, err)
	}
}

// flagSet is the per-command flag set with the shared --config flag.
type flagSet struct {
	*pflag.FlagSet
	configPath *string
}

func newFlagSet(name string) *flagSet {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	return &flagSet{
		FlagSet:    fs,
		configPath: fs.String("config", model.DefaultConfigPath(), "config file path"),
	}
}

// parse parses args and loads the configuration they point at.
func (fs *flagSet) parse(args []string) (*model.AppConfig, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := model.LoadConfig(*fs.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
