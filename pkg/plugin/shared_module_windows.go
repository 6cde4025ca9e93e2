//go:build windows

package plugin

import "errors"

func openSharedModule(path string) (symbolTable, error) {
	return nil, errors.New("shared modules are not supported on windows")
}
