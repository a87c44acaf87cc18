package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalogue = `
simulation:
  mode: Stepped
  speed: 1
  update_interval_s: 0.01
corporate_network: corporate_network
devices:
  - name: turbine_plc_1
    kind: PLC
    id: 1
    protocols:
      - name: modbus
        host: 0.0.0.0
        port: 10502
        unit_id: 1
  - name: safety_plc_1
    kind: SIS
    id: 2
networks:
  - name: plant_network
    subnet: 192.168.1.0/24
    vlan: 10
  - name: corporate_network
    subnet: 10.0.0.0/24
memberships:
  - network: plant_network
    devices: [turbine_plc_1, safety_plc_1]
allow_rules:
  - src_network: corporate_network
    dst_device: engineering_workstation
    protocol: modbus
    port: 10502
`

func TestParseValidCatalogue(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalogue))
	require.NoError(t, err)
	require.Len(t, cat.Devices, 2)
	assert.Equal(t, "turbine_plc_1", cat.Devices[0].Name)
	assert.Equal(t, "modbus", cat.Devices[0].Protocols[0].Name)
	assert.Equal(t, "Stepped", cat.Simulation.Mode)
	require.Len(t, cat.Memberships, 1)
	assert.Equal(t, "plant_network", cat.Memberships[0].Network)
}

func TestParseRejectsDuplicateDeviceNames(t *testing.T) {
	_, err := Parse([]byte(`
devices:
  - {name: d1, kind: PLC, id: 1}
  - {name: d1, kind: RTU, id: 2}
`))
	require.Error(t, err)
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse([]byte(`
devices:
  - {name: d1, kind: Toaster, id: 1}
`))
	require.Error(t, err)
}

func TestParseRejectsNetworkMissingSubnet(t *testing.T) {
	_, err := Parse([]byte(`
networks:
  - {name: n1}
`))
	require.Error(t, err)
}
