package model

import (
	"errors"
	"testing"

	"github.com/go-test/deep"
)

func TestJob_CheckIOConflict(t *testing.T) {
	tests := []struct {
		name    string
		uses    []PegasusFile
		wantErr bool
	}{
		{
			name: "input and output",
			uses: []PegasusFile{
				{LFN: "f.a", Link: LinkInput},
				{LFN: "f.a", Link: LinkOutput},
			},
			wantErr: true,
		},
		{
			name:    "checkpoint",
			uses:    []PegasusFile{{LFN: "state.ckpt", Link: LinkCheckpoint}},
			wantErr: false,
		},
		{
			name:    "inout",
			uses:    []PegasusFile{{LFN: "db.sqlite", Link: LinkInOut}},
			wantErr: false,
		},
		{
			name: "distinct files",
			uses: []PegasusFile{
				{LFN: "f.a", Link: LinkInput},
				{LFN: "f.b", Link: LinkOutput},
			},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJob("j", JobTypeCompute)
			j.LogicalID = "ID1"
			for _, u := range tt.uses {
				j.AddUse(u)
			}
			err := j.CheckIOConflict()
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckIOConflict() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var se *StructuralError
				if !errors.As(err, &se) || se.Kind != KindIOConflict || se.Ref != "ID1" {
					t.Errorf("err = %#v", err)
				}
			}
		})
	}
}

func TestJob_CheckpointUse(t *testing.T) {
	j := NewJob("j", JobTypeCompute)
	j.AddUse(PegasusFile{LFN: "state.ckpt", Link: LinkCheckpoint, StageOut: true})

	in, ok := j.Inputs.Get("state.ckpt")
	if !ok || !in.Optional || !in.Checkpoint || in.Link != LinkInput {
		t.Errorf("input = %+v", in)
	}
	out, ok := j.Outputs.Get("state.ckpt")
	if !ok || out.Optional || !out.Checkpoint || out.Link != LinkOutput {
		t.Errorf("output = %+v", out)
	}
}

func TestJob_Credentials(t *testing.T) {
	j := NewJob("j", JobTypeStageIn)
	j.AddCredential("remote", CredentialX509)
	j.AddCredential("local", CredentialSSH)
	j.AddCredential("remote", CredentialX509)

	want := []CredentialRef{
		{Site: "local", Type: CredentialSSH},
		{Site: "remote", Type: CredentialX509},
	}
	if diff := deep.Equal(j.Credentials(), want); diff != nil {
		t.Error(diff)
	}
}

func TestTransformationRef_LogicalName(t *testing.T) {
	tests := []struct {
		ref  TransformationRef
		want string
	}{
		{TransformationRef{Namespace: "diamond", Name: "preprocess", Version: "4.0"}, "diamond::preprocess:4.0"},
		{TransformationRef{Name: "findrange"}, "findrange"},
		{TransformationRef{Namespace: "pegasus", Name: "transfer"}, "pegasus::transfer"},
	}
	for _, tt := range tests {
		if got := tt.ref.LogicalName(); got != tt.want {
			t.Errorf("LogicalName() = %q, want %q", got, tt.want)
		}
	}
}

func TestJobType_GatewayJobType(t *testing.T) {
	if got := JobTypeStageIn.GatewayJobType(); got != GatewayTransfer {
		t.Errorf("stage-in = %s", got)
	}
	if got := JobTypeSetXBit.GatewayJobType(); got != GatewayAuxillary {
		t.Errorf("set-xbit = %s", got)
	}
}
