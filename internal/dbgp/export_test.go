// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dbgp

// QueuedCommands returns the number of commands waiting for their turn on a connection.
func (m *Multiplexer) QueuedCommands(id ConnectionID) int {
	conn, err := m.resolve(id)
	if err != nil {
		return -1
	}
	return conn.Queued()
}
