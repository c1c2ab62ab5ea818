// Command docanalyzer はドキュメント解析APIサーバー・ワーカー・マイグレーションを起動する。
//
//	docanalyzer [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/docanalyzer/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
