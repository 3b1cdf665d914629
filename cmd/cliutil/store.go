package cliutil

import (
	"github.com/spf13/viper"

	"github.com/queuectl/queuectl/pkg/store"
)

// DBPath returns the database file selected by --db / QUEUECTL_DB.
func DBPath() string {
	return viper.GetString("db")
}

// OpenStore opens the store selected by the global --db flag.
func OpenStore() (*store.Store, error) {
	return store.Open(DBPath())
}
