package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/KevinKickass/OpenFanCore/internal/policy"
	"github.com/spf13/cobra"
)

func openStore() (*policy.Store, error) {
	return policy.NewStore(logger.Named("profiles"), cfg.Policy.ProfilesFile, cfg.Policy.Active)
}

func listProfiles(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	active := store.Active().Name
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tMODE\tDETAIL")
	for _, p := range store.List() {
		marker := ""
		if p.Name == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, p.Name, p.Mode, profileDetail(p))
	}
	return w.Flush()
}

func profileDetail(p policy.Profile) string {
	switch p.Mode {
	case policy.ModeManual:
		return fmt.Sprintf("%g%%", p.Percent)
	case policy.ModeSilent:
		return fmt.Sprintf("table %v", tableOf(p, policy.SilentTable))
	case policy.ModeProactive:
		return fmt.Sprintf("table %v + headroom", tableOf(p, policy.ProactiveTable))
	}
	return ""
}

func tableOf(p policy.Profile, fallback policy.PressureTable) policy.PressureTable {
	if p.Table != nil {
		return *p.Table
	}
	return fallback
}

// useProfile persists the choice; a running instance watching the same
// file picks it up.
func useProfile(cmd *cobra.Command, args []string) error {
	if cfg.Policy.ProfilesFile == "" {
		return fmt.Errorf("policy.profiles_file is not configured")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	p, err := store.SetActive(args[0])
	if err != nil {
		return err
	}
	if err := store.Save(); err != nil {
		return fmt.Errorf("save profiles: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Active profile: %s (%s)\n", p.Name, p.Mode)
	return nil
}
