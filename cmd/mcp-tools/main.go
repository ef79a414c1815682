// Command mcp-tools connects to the MCP servers described in a configuration
// file and either lists their aggregated tool catalog or executes one tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"

	mcpclient "github.com/MegaGrindStone/go-mcp-client"
)

type options struct {
	Config string `short:"f" long:"config" description:"Path to the MCP servers configuration file (JSON or YAML)" required:"true"`
	Call   string `short:"c" long:"call" description:"Name of the tool to execute; omit to list the catalog"`
	Args   string `short:"a" long:"args" description:"Tool arguments as a JSON object" default:"{}"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("mcp-tools failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(args []string) error {
	opts := &options{}
	if _, err := flags.ParseArgs(opts, args); err != nil {
		return err
	}

	data, err := os.ReadFile(opts.Config)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	servers, err := mcpclient.ParseServersConfig(data)
	if err != nil {
		return err
	}

	ctx := context.Background()

	registry, err := mcpclient.NewRegistry(ctx, servers)
	if err != nil {
		return err
	}
	defer registry.Close()

	if opts.Call == "" {
		return listTools(ctx, registry)
	}

	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(opts.Args), &toolArgs); err != nil {
		return fmt.Errorf("failed to parse tool arguments: %w", err)
	}

	fmt.Println(registry.ExecuteTool(ctx, opts.Call, toolArgs))
	return nil
}

func listTools(ctx context.Context, registry *mcpclient.Registry) error {
	if _, err := registry.FetchTools(ctx); err != nil {
		return err
	}

	for _, server := range registry.Servers() {
		fmt.Printf("%s:\n", server)
		for _, tool := range registry.Catalog(server) {
			fmt.Printf("  %s", tool.Name)
			if tool.Description != "" {
				fmt.Printf(" - %s", tool.Description)
			}
			fmt.Println()
		}
	}
	return nil
}
