/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package bridge translates Chrome DevTools protocol commands into DBGp commands
// and DBGp engine activity into Chrome DevTools protocol events.
//
// A Translator serves one debugging session. It parses inbound command envelopes, routes them
// to the handler that owns the addressed domain (Debugger, Page, Console or Runtime) and makes sure
// every command gets exactly one reply. Handlers talk to debugger engines only through the
// dbgp.Multiplexer owned by the Translator.
package bridge
