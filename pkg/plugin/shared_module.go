//go:build !windows

package plugin

import (
	goplugin "plugin"
)

type sharedModule struct {
	p *goplugin.Plugin
}

func (m sharedModule) Lookup(name string) (any, error) {
	sym, err := m.p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// openSharedModule opens a Go plugin. Go plugins can never be closed, so
// every opened module stays resident.
func openSharedModule(path string) (symbolTable, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	return sharedModule{p: p}, nil
}
