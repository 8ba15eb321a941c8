package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/KevinKickass/OpenFanCore/internal/sensors"
	"github.com/spf13/cobra"
)

func listSensors(cmd *cobra.Command, args []string) error {
	dev, err := openDevice(true)
	if err != nil {
		return err
	}
	defer dev.Close()

	all, err := newReader(dev).Sensors()
	if err != nil {
		return err
	}

	list := make([]sensors.Sensor, 0, len(all))
	for _, s := range all {
		if showAll || s.Active() {
			list = append(list, s)
		}
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tCLASS\tVALUE")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Key, s.Name, s.Class, formatReading(s))
	}
	return w.Flush()
}

func formatReading(s sensors.Sensor) string {
	if s.Active() {
		return fmt.Sprintf("%.1f°C", s.Value)
	}
	return fmt.Sprintf("%g", s.Value)
}
