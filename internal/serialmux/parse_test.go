package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{testRMC, EventTypeFix},
		{testGGA, EventTypeQuality},
		{"$PMTK001,220,3*30", EventTypeAck},
		{"$GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00*74", EventTypeNMEA},
		{"$PMTK220,1000*00", EventTypeUnknown},
		{"hello", EventTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyLine(tt.line), tt.line)
	}
}
