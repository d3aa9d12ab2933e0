package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"duet/internal/commands"
	"duet/internal/config"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  duetctl token -id <user id> -name <username> [-ttl 1h]
  duetctl add-user <username>
  duetctl vapid`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load(true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		id := fs.String("id", "", "user id (token subject)")
		name := fs.String("name", "", "username")
		ttl := fs.Duration("ttl", time.Hour, "token lifetime")
		_ = fs.Parse(os.Args[2:])
		err = commands.MintToken(context.Background(), os.Stdout, cfg, *id, *name, *ttl)
	case "add-user":
		if len(os.Args) != 3 {
			usage()
		}
		err = commands.AddUser(os.Args[2], cfg)
	case "vapid":
		err = commands.GenerateVAPIDKeys(os.Stdout)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
