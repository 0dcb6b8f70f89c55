package cli

import (
	"errors"
	"testing"

	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/rpc"
)

var cliPositions = []model.Position{
	{ID: "SQ-A101-P1", Name: "P1", DeviceID: "SQ-A101", State: model.PositionRunning, Port: 9601},
	{ID: "SQ-A101-P2", Name: "P2", DeviceID: "SQ-A101", State: model.PositionIdle, Port: 9602},
	{ID: "SQ-A102-P1", Name: "P3", DeviceID: "SQ-A102", State: model.PositionRunning, Port: 9603},
}

func TestSelectPositionsByIDAndName(t *testing.T) {
	selected, err := selectPositions(cliPositions, []string{"SQ-A101-P2", "P3"})
	if err != nil {
		t.Fatalf("selectPositions failed: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("selected %d positions, want 2", len(selected))
	}
	if selected[0].ID != "SQ-A101-P2" || selected[1].ID != "SQ-A102-P1" {
		t.Errorf("selected = %v, %v; want SQ-A101-P2, SQ-A102-P1", selected[0].ID, selected[1].ID)
	}
}

func TestSelectPositionsUnknown(t *testing.T) {
	_, err := selectPositions(cliPositions, []string{"P1", "P9"})
	var ce *rpc.ClientError
	if !errors.As(err, &ce) || ce.Kind != rpc.KindNotFound {
		t.Fatalf("selectPositions unknown = %v, want KindNotFound", err)
	}
}

func TestMatchesFilter(t *testing.T) {
	pos := cliPositions[0]
	if !matchesFilter(pos, []string{"P1"}) {
		t.Error("name match failed")
	}
	if !matchesFilter(pos, []string{"SQ-A101-P1"}) {
		t.Error("ID match failed")
	}
	if matchesFilter(pos, []string{"P2", "P3"}) {
		t.Error("matched filter it should not")
	}
}
