package model

import "strings"

// Scheduler attribute keys carried in a job's condor namespace.
const (
	CondorUniverse              = "universe"
	CondorRemoteUniverse        = "+remote_universe"
	CondorRemoteInitialDir      = "remote_initialdir"
	CondorInitialDir            = "initialdir"
	CondorShouldTransferFiles   = "should_transfer_files"
	CondorWhenToTransferOutput  = "when_to_transfer_output"
	CondorRemoteShouldTransfer  = "+remote_ShouldTransferFiles"
	CondorRemoteWhenToTransfer  = "+remote_WhenToTransferOutput"
	CondorTransferExecutable    = "transfer_executable"
	CondorTransferInputFiles    = "transfer_input_files"
	CondorTransferOutputFiles   = "transfer_output_files"
	CondorEncryptInputFiles     = "encrypt_input_files"
	CondorGridResource          = "grid_resource"
	CondorX509UserProxy         = "x509userproxy"
	CondorRemoteCERequirements  = "+remote_cerequirements"
	CondorRemoteEnvironment     = "+remote_environment"
	CondorBatchQueue            = "batch_queue"
	CondorCollector             = "condor_collector"
	CondorRequirements          = "requirements"
	CondorRank                  = "rank"
	CondorPriority              = "priority"
	CondorGlobusRSL             = "globusrsl"
	CondorExecutable            = "executable"
	CondorArguments             = "arguments"
	CondorShouldTransferYes     = "YES"
	CondorWhenToTransferOnExit  = "ON_EXIT"
)

// Pegasus planner profile keys.
const (
	PegasusStyle            = "style"
	PegasusCores            = "cores"
	PegasusNodes            = "nodes"
	PegasusPPN              = "ppn"
	PegasusRuntime          = "runtime"
	PegasusMemory           = "memory"
	PegasusQueue            = "queue"
	PegasusProject          = "project"
	PegasusGLiteArguments   = "glite.arguments"
	PegasusStageInClusters  = "stagein.clusters"
	PegasusStageOutClusters = "stageout.clusters"
	PegasusClusterStageIn   = "cluster.stagein"
	PegasusClusterStageOut  = "cluster.stageout"
	PegasusHTTPEndpoints    = "http.endpoints"
)

// Hints profile keys.
const (
	HintsExecutionSite = "execution.site"
)

// AddInputFilesForTransfer appends files to the transfer_input_files list.
func (p *Profiles) AddInputFilesForTransfer(files ...string) {
	p.addFilesForTransfer(CondorTransferInputFiles, files)
}

// AddOutputFilesForTransfer appends files to the transfer_output_files list.
func (p *Profiles) AddOutputFilesForTransfer(files ...string) {
	p.addFilesForTransfer(CondorTransferOutputFiles, files)
}

// addFilesForTransfer merges files into the comma separated list under key,
// skipping entries already present. The first time any transfer list is
// created, should_transfer_files is enabled and when_to_transfer_output is
// defaulted unless the user already chose a value.
func (p *Profiles) addFilesForTransfer(key string, files []string) {
	if len(files) == 0 {
		return
	}
	existing := SplitFileList(p.Value(key))
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		existing = append(existing, f)
	}
	if len(existing) == 0 {
		return
	}
	p.Construct(key, strings.Join(existing, ","))
	if !p.Contains(CondorShouldTransferFiles) {
		p.Construct(CondorShouldTransferFiles, CondorShouldTransferYes)
	}
	if !p.Contains(CondorWhenToTransferOutput) {
		p.Construct(CondorWhenToTransferOutput, CondorWhenToTransferOnExit)
	}
}

// RemoveInputFilesForTransfer drops the transfer_input_files list and returns
// it. The transfer control keys are removed as well unless an output list or
// an executable transfer still needs them.
func (p *Profiles) RemoveInputFilesForTransfer() []string {
	v, ok := p.Remove(CondorTransferInputFiles)
	if !ok {
		return nil
	}
	if !p.Contains(CondorTransferOutputFiles) && !p.Contains(CondorTransferExecutable) {
		p.Remove(CondorShouldTransferFiles)
		p.Remove(CondorWhenToTransferOutput)
	}
	return SplitFileList(v)
}

// RemoveOutputFilesForTransfer drops the transfer_output_files list and
// returns it.
func (p *Profiles) RemoveOutputFilesForTransfer() []string {
	v, ok := p.Remove(CondorTransferOutputFiles)
	if !ok {
		return nil
	}
	return SplitFileList(v)
}

// SplitFileList splits a comma separated transfer list, dropping blanks.
func SplitFileList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
