package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/codex-crawler/pkg/config"
	"github.com/Sriram-PR/codex-crawler/pkg/orchestrate"
)

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(path string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", path)
	appCfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	warnings, err := appCfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	return appCfg, nil
}

// validateSiteConfigs validates each site and stores the defaulted config back
// into appCfg.
func validateSiteConfigs(appCfg *config.AppConfig, siteKeys []string, log *logrus.Logger) error {
	for _, key := range siteKeys {
		siteCfg, ok := appCfg.Sites[key]
		if !ok {
			return fmt.Errorf("site '%s' not found. Available sites: %v", key, orchestrate.GetAllSiteKeys(appCfg))
		}
		warnings, err := siteCfg.Validate()
		if err != nil {
			return fmt.Errorf("site '%s' configuration error: %w", key, err)
		}
		for _, w := range warnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Sites[key] = siteCfg
	}
	return nil
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, DiscoveryCap:%d, MaxReqs:%d, Delay:%v",
		appCfg.Workers, appCfg.DiscoveryCap, appCfg.MaxRequests, appCfg.Delay)
	log.Infof("Global Config: StateDir:%q, Resume:%t, OutputDir:%s",
		appCfg.StateDir, appCfg.Resume, appCfg.OutputBaseDir)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, MaxRedirects:%d",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns,
		appCfg.HTTPClientSettings.MaxIdleConnsPerHost, appCfg.HTTPClientSettings.MaxRedirects)
}

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [site]",
		Short: "Validate the configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			siteKey := ""
			if len(args) == 1 {
				siteKey = args[0]
			}
			if code := doValidate(configPath(cmd), siteKey, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return fmt.Errorf("configuration invalid")
			}
			return nil
		},
	}
}

// doValidate validates the config file, or one site of it.
// Returns exit code (0 = success, 1 = error).
func doValidate(path, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	keys := orchestrate.GetAllSiteKeys(appCfg)
	if siteKey != "" {
		if _, ok := appCfg.Sites[siteKey]; !ok {
			fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
			return 1
		}
		keys = []string{siteKey}
	}
	if len(keys) == 0 {
		fmt.Fprintln(stderr, "Error: no sites configured")
		return 1
	}

	hasError := false
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// NewListSitesCmd creates the list-sites command.
func NewListSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-sites",
		Short: "List the site keys in the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if code := doListSites(configPath(cmd), cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return fmt.Errorf("cannot list sites")
			}
			return nil
		},
	}
}

// doListSites lists sites and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(path string, stdout, stderr io.Writer) int {
	appCfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Sites in %s:\n\n", path)
	for _, key := range orchestrate.GetAllSiteKeys(appCfg) {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    Seeds: %d\n", len(site.Seeds))
		if len(site.Filter.AllowedHosts) > 0 {
			fmt.Fprintf(stdout, "    Hosts: %v\n", site.Filter.AllowedHosts)
		}
		if site.Records.Enabled {
			fmt.Fprintf(stdout, "    Records: locales %v\n", site.Records.Locales)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}
