package models

// JobRequest is the typed view of a validated manifest. Content rules belong to the JSON schema;
// the validate tags only check that the job id is set and that the arrays are present.
type JobRequest struct {
	PipelineParam PipelineParam `json:"pipeline_param"`
	GlobusDetails GlobusDetails `json:"globus_details"`
}

// PipelineParam holds the pgsc_calc parameters for one run
type PipelineParam struct {
	ID            string         `json:"id" validate:"required"`
	TargetGenomes []TargetGenome `json:"target_genomes" validate:"required"`
	NxfParamsFile NxfParamsFile  `json:"nxf_params_file"`
	NxfWork       string         `json:"nxf_work"` // Kept for the record, not used by any template
}

// TargetGenome describes one set of genotypes. Exactly which format fields are set depends on
// whether the genomes are PLINK2 (pvar/pgen/psam), PLINK1 (bed/bim/fam) or VCF.
type TargetGenome struct {
	Pvar      *string `json:"pvar"`
	Pgen      *string `json:"pgen"`
	Psam      *string `json:"psam"`
	Bed       *string `json:"bed"`
	Bim       *string `json:"bim"`
	Fam       *string `json:"fam"`
	Vcf       *string `json:"vcf"`
	Sampleset string  `json:"sampleset"`
	Chrom     *string `json:"chrom"`
}

// NxfParamsFile is written to params.json for nextflow
type NxfParamsFile struct {
	PgsID       string `json:"pgs_id"`
	Format      string `json:"format"`
	TargetBuild string `json:"target_build"`
}

// GlobusDetails describes where the encrypted genomes are staged from
type GlobusDetails struct {
	GuestCollectionID        string     `json:"guest_collection_id"`
	DirPathOnGuestCollection string     `json:"dir_path_on_guest_collection"`
	Files                    []FileData `json:"files" validate:"required"`
}

// FileData is a single file to transfer
type FileData struct {
	Filename string `json:"filename"`
	FileSize uint64 `json:"file_size"`
}
