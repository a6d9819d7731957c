// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dbgp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInitPacket(t *testing.T) {
	t.Parallel()

	data := `<?xml version="1.0" encoding="iso-8859-1"?>
<init xmlns="urn:debugger_protocol_v1" xmlns:xdebug="https://xdebug.org/dbgp/xdebug" fileuri="file:///var/www/index.php" language="PHP" protocol_version="1.0" appid="4242" idekey="nuclide"><engine version="3.3.0"><![CDATA[Xdebug]]></engine></init>`

	packet, err := ParsePacket([]byte(data))
	require.NoError(t, err)
	require.NotNil(t, packet.Init)
	require.Nil(t, packet.Response)
	require.Equal(t, "4242", packet.Init.AppID)
	require.Equal(t, "nuclide", packet.Init.IDEKey)
	require.Equal(t, "file:///var/www/index.php", packet.Init.FileURI)
	require.Equal(t, "PHP", packet.Init.Language)
}

func TestParseStackResponse(t *testing.T) {
	t.Parallel()

	data := `<?xml version="1.0" encoding="iso-8859-1"?>
<response xmlns="urn:debugger_protocol_v1" command="stack_get" transaction_id="7">
  <stack where="helper" level="0" type="file" filename="file:///app/lib.php" lineno="12"></stack>
  <stack where="{main}" level="1" type="file" filename="file:///app/index.php" lineno="3"></stack>
</response>`

	packet, err := ParsePacket([]byte(data))
	require.NoError(t, err)
	resp := packet.Response
	require.NotNil(t, resp)
	require.Equal(t, "stack_get", resp.Command)
	require.Equal(t, 7, resp.TransactionID)
	require.NoError(t, resp.Err())
	require.Len(t, resp.Stack, 2)
	require.Equal(t, "helper", resp.Stack[0].Where)
	require.Equal(t, 12, resp.Stack[0].LineNo)
	require.Equal(t, 1, resp.Stack[1].Level)
}

func TestParseBreakWithException(t *testing.T) {
	t.Parallel()

	data := `<response xmlns="urn:debugger_protocol_v1" xmlns:xdebug="https://xdebug.org/dbgp/xdebug" command="run" transaction_id="9" status="break" reason="exception"><xdebug:message filename="file:///app/index.php" lineno="5" exception="RuntimeException"><![CDATA[it broke]]></xdebug:message></response>`

	packet, err := ParsePacket([]byte(data))
	require.NoError(t, err)
	resp := packet.Response
	require.Equal(t, StatusBreak, resp.Status)
	require.Equal(t, "exception", resp.Reason)
	require.NotNil(t, resp.Message)
	require.Equal(t, "RuntimeException", resp.Message.Exception)
	require.Equal(t, "it broke", resp.Message.Text)
	require.Equal(t, 5, resp.Message.LineNo)
}

func TestParseErrorResponse(t *testing.T) {
	t.Parallel()

	data := `<response xmlns="urn:debugger_protocol_v1" command="property_get" transaction_id="3"><error code="300"><message><![CDATA[can not get property]]></message></error></response>`

	packet, err := ParsePacket([]byte(data))
	require.NoError(t, err)

	respErr := packet.Response.Err()
	require.Error(t, respErr)
	require.True(t, IsEngineError(respErr))
	var engineErr *EngineError
	require.ErrorAs(t, respErr, &engineErr)
	require.Equal(t, 300, engineErr.Code)
	require.Equal(t, "can not get property", engineErr.Message)
	require.Equal(t, "property_get", engineErr.Command)
}

func TestParseNestedProperties(t *testing.T) {
	t.Parallel()

	data := `<response command="context_get" transaction_id="4" context="0">
<property name="$count" fullname="$count" type="int"><![CDATA[3]]></property>
<property name="$name" fullname="$name" type="string" size="5" encoding="base64"><![CDATA[aGVsbG8=]]></property>
<property name="$list" fullname="$list" type="array" children="1" numchildren="2" page="0" pagesize="32">
  <property name="0" fullname="$list[0]" type="int"><![CDATA[1]]></property>
  <property name="1" fullname="$list[1]" type="int"><![CDATA[2]]></property>
</property>
</response>`

	packet, err := ParsePacket([]byte(data))
	require.NoError(t, err)
	props := packet.Response.Properties
	require.Len(t, props, 3)

	value, valueErr := props[0].DecodedValue()
	require.NoError(t, valueErr)
	require.Equal(t, "3", value)

	value, valueErr = props[1].DecodedValue()
	require.NoError(t, valueErr)
	require.Equal(t, "hello", value)

	require.True(t, props[2].HasChildren())
	require.Equal(t, 2, props[2].NumChildren)
	require.Len(t, props[2].Properties, 2)
	require.Equal(t, "$list[1]", props[2].Properties[1].FullName)
}

func TestParseStreamAndNotify(t *testing.T) {
	t.Parallel()

	packet, err := ParsePacket([]byte(`<stream xmlns="urn:debugger_protocol_v1" type="stdout" encoding="base64">aGkK</stream>`))
	require.NoError(t, err)
	require.NotNil(t, packet.Stream)
	text, textErr := packet.Stream.Text()
	require.NoError(t, textErr)
	require.Equal(t, "hi\n", text)

	packet, err = ParsePacket([]byte(`<notify xmlns="urn:debugger_protocol_v1" name="breakpoint_resolved"><breakpoint id="3" type="line" resolved="resolved" filename="file:///a.php" lineno="8" state="enabled"/></notify>`))
	require.NoError(t, err)
	require.NotNil(t, packet.Notify)
	require.Equal(t, "breakpoint_resolved", packet.Notify.Name)
	require.NotNil(t, packet.Notify.Breakpoint)
	require.Equal(t, "3", packet.Notify.Breakpoint.ID)
	require.Equal(t, 8, packet.Notify.Breakpoint.LineNo)
}

func TestParseRejectsUnknownPackets(t *testing.T) {
	t.Parallel()

	_, err := ParsePacket([]byte(`<bogus/>`))
	require.ErrorIs(t, err, ErrProtocolViolation)

	_, err = ParsePacket([]byte(`not xml at all`))
	require.ErrorIs(t, err, ErrProtocolViolation)
}
