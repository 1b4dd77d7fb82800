package home

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/InsulaLabs/nodekeeper/chain"
	"github.com/pkg/errors"
)

const (
	HomeDirName     = ".nodekeeper"
	NodeTopLevelDir = "node"
	NodeDefaultDir  = "default"

	ServerConfigFileName = "node-server.toml"

	// Node REST API and owner API secret
	APISecretFileName = ".api_secret"
	// Foreign API secret
	ForeignAPISecretFileName = ".foreign_api_secret"
)

// exit is swapped in tests so MustResolveHome can be observed.
var exit = os.Exit

// DefaultBase is the user's home directory, or the working directory if the
// platform does not report one.
func DefaultBase() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return ""
}

// NodeDir computes the chain specific node home without touching the disk.
func NodeDir(base string, ct chain.Type) string {
	return filepath.Join(base, HomeDirName, ct.ShortName(), NodeTopLevelDir, NodeDefaultDir)
}

// ResolveHome returns the node home for the given chain, creating the tree if
// it is absent. An existing directory is not an error, so repeated calls are safe.
func ResolveHome(base string, ct chain.Type) (string, error) {
	if !ct.Valid() {
		return "", errors.Wrapf(chain.ErrUnknownChainType, "resolving node home for chain %d", int(ct))
	}
	dir := NodeDir(base, ct)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "unable to create node home %s", dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", errors.Wrapf(err, "unable to stat node home %s", dir)
	}
	if !info.IsDir() {
		return "", errors.Errorf("node home %s exists and is not a directory", dir)
	}
	return dir, nil
}

// MustResolveHome is ResolveHome for callers that cannot continue without a
// writable home. Failure is logged and the process exits.
func MustResolveHome(logger *slog.Logger, base string, ct chain.Type) string {
	dir, err := ResolveHome(base, ct)
	if err != nil {
		logger.Error("Unable to create default node path", "chain", ct.String(), "error", err)
		exit(1)
	}
	return dir
}

func ServerConfigPath(homeDir string) string {
	return filepath.Join(homeDir, ServerConfigFileName)
}
