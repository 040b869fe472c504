// Package logger provides adapters for popular logger libraries to work with treeindex's Logger interface.
//
// The adapters allow you to use your existing logger with treeindex without writing boilerplate.
// Note that the standard library's slog.Logger already implements treeindex.Logger directly.
//
// Example with zap:
//
//	import (
//	    "github.com/alexhholmes/treeindex"
//	    "github.com/alexhholmes/treeindex/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    ix, err := treeindex.New[string, []byte](
//	        treeindex.WithLogger(logger.NewZap(zapLogger)),
//	    )
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer ix.Close()
//	}
package logger
