package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatd/internal/daemon"
	"github.com/matheus3301/chatd/internal/lock"
	"github.com/matheus3301/chatd/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	socketFlag := flag.String("socket", "", "socket path (defaults to the profile socket)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Fail fast before fx builds anything.
	if pid, held := lock.Holder(profile.Dir(profileName)); held {
		fmt.Fprintf(os.Stderr, "error: profile %q already served by PID %d\n", profileName, pid)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName, SocketPath: *socketFlag}),
	)

	app.Run()
}
