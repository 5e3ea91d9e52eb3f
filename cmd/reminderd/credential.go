package main

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/nhle/reminders/internal/credential"
)

// runSMTPPassword reads the SMTP password from stdin and stores it in the
// keyring under smtp.password_key.
func runSMTPPassword(args []string, logger *log.Logger) error {
	fs := newFlagSet("smtp-password")
	cfg, err := fs.parse(args)
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stderr, "SMTP password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	if err := credential.Set(cfg.SMTP.PasswordKey, password); err != nil {
		return err
	}
	logger.Printf("stored SMTP password under %q", cfg.SMTP.PasswordKey)
	return nil
}
