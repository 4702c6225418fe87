package root

import (
	"github.com/dehesalabs/trazar/apps/cli/cmd/bootstrap"
)

func init() {
	Root().AddCommand(bootstrap.Command())
}
