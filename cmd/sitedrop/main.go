package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	apiclient "github.com/sitedrop/sitedrop/pkg/api/client"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "deploy":
		err = commandDeploy(args)
	case "status":
		err = commandStatus(args)
	case "deployments":
		err = commandDeployments(args)
	case "version", "--version", "-v":
		fmt.Printf("sitedrop %s\n", buildVersion)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	name := fs.String("name", "", "Site name (becomes the hostname)")
	file := fs.String("file", "", "Path to an HTML file or zip bundle")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	if strings.TrimSpace(*file) == "" {
		return errors.New("--file is required")
	}

	client, err := apiclient.New(*apiBase)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	resp, err := client.Deploy(ctx, *name, *file)
	if err != nil {
		return err
	}
	fmt.Printf("deployed: %s (remaining quota: %d)\n", resp.URL, resp.RemainingQuota)
	return nil
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	client, err := apiclient.New(*apiBase)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	status, err := client.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("remaining quota: %d\n", status.RemainingQuota)
	if status.Cooldown {
		fmt.Printf("cooldown: %ds remaining\n", status.RemainingSeconds)
	} else {
		fmt.Println("cooldown: none")
	}
	return nil
}

func commandDeployments(args []string) error {
	fs := flag.NewFlagSet("deployments", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of entries")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	client, err := apiclient.New(*apiBase)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	deployments, err := client.Deployments(ctx, *limit)
	if err != nil {
		return err
	}
	if len(deployments) == 0 {
		fmt.Println("no deployments")
		return nil
	}
	for _, d := range deployments {
		line := fmt.Sprintf("%s  %-10s %s", d.CreatedAt.Local().Format(time.RFC3339), d.Status, d.SiteName)
		if d.URL != "" {
			line += "  " + d.URL
		}
		if d.Error != "" {
			line += "  (" + d.Error + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func printUsage() {
	fmt.Println(`sitedrop - instant static site deploys

Usage:
  sitedrop deploy --name <site> --file <path> [--api <url>]
  sitedrop status [--api <url>]
  sitedrop deployments [--limit <n>] [--api <url>]
  sitedrop version`)
}
