// Command recruitman は採用管理APIサーバーとバックグラウンドワーカーを起動する。
//
// 使い方:
//
//	recruitman [serve|worker|migrate|cleanup|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/recruitman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "recruitman: %v\n", err)
		os.Exit(1)
	}
}
