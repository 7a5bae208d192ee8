package main

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/loopback/internal/capture"
	"github.com/breeze-rmm/loopback/internal/source"
	"github.com/breeze-rmm/loopback/internal/wasapi"
)

var devicesOutput string

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the output devices that can be captured",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkDevicesOutput(devicesOutput); err != nil {
			return err
		}
		_, logCloser, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logCloser.Close()

		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		devices, err := capture.ListDevices(wasapi.Default())
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		return printDevices(cmd.OutOrStdout(), devices, devicesOutput)
	},
}

func init() {
	devicesCmd.Flags().StringVarP(&devicesOutput, "output", "o", "text", "output format: text, json or yaml")
}

func checkDevicesOutput(format string) error {
	switch format {
	case "text", "", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
}

func printDevices(w io.Writer, devices []capture.DeviceInfo, format string) error {
	if err := checkDevicesOutput(format); err != nil {
		return err
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(devices); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DEFAULT\tNAME\tIDENTIFIER")
		for _, d := range devices {
			mark := ""
			if d.Default {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, d.Name, source.Request{Device: d.Name}.Identifier())
		}
		return tw.Flush()
	}
	return nil
}
