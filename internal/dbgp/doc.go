/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package dbgp implements the IDE side of the DBGp debugger protocol used by HHVM and Xdebug.
//
// A debugger engine (the PHP/Hack runtime) connects to the IDE listener and announces itself with an
// init packet. The Connector accepts those connections and filters them by IDE key, process id and
// script path. Each accepted engine socket becomes a Connection, which serializes commands so that at
// most one is outstanding at a time (the protocol offers no pipelining), and matches responses to
// commands by transaction id. Engine status changes, stream output and notifications are reported as
// events.
//
// The Multiplexer owns all live connections of a debugging session. It routes commands either to a
// specific connection or to the connection that currently has focus, which is the one that most
// recently stopped at a break. Consumers observe connection lifecycle through Subscribe().
package dbgp
