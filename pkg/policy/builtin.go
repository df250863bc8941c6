package policy

// Builtins returns the built-in governance policy set for AI/ML
// infrastructure. Built-ins load before file-based policies and follow the
// same compilation path; a deployment that wants none of them passes
// --no-builtins.
func Builtins() []Policy {
	return []Policy{
		requiredCostTagsPolicy(),
		allowedEnvironmentsPolicy(),
		restrictedDataEncryptionPolicy(),
		gpuQuotaPolicy(),
		productionApprovalPolicy(),
		notebookInstanceTypesPolicy(),
		teamLabelPolicy(),
		replicaCeilingPolicy(),
		privilegedContainersPolicy(),
	}
}

// awsComputeKinds are the cloud resource types the tagging built-ins govern.
var awsComputeKinds = []string{
	"aws_instance",
	"aws_sagemaker_notebook_instance",
	"aws_sagemaker_endpoint",
	"aws_eks_node_group",
	"aws_s3_bucket",
}

// workloadKinds are the cluster workload kinds the admission built-ins govern.
var workloadKinds = []string{"Deployment", "StatefulSet", "Job"}

func requiredCostTagsPolicy() Policy {
	return Policy{
		Name:        "required-cost-tags",
		Description: "Cloud resources must carry cost attribution and ownership tags",
		Level:       LevelHardMandatory,
		Scope:       Scope{Kinds: awsComputeKinds},
		Checks: []CheckSpec{
			{Type: "required", Field: "tags.CostCenter"},
			{Type: "required", Field: "tags.Owner"},
			{Type: "required", Field: "tags.Environment"},
		},
	}
}

func allowedEnvironmentsPolicy() Policy {
	return Policy{
		Name:        "allowed-environments",
		Description: "The Environment tag must name a known deployment environment",
		Level:       LevelHardMandatory,
		Scope:       Scope{Kinds: awsComputeKinds},
		Checks: []CheckSpec{
			{
				Type:   "allowed-values",
				Field:  "tags.Environment",
				Values: []string{"development", "staging", "production", "test"},
			},
		},
	}
}

func restrictedDataEncryptionPolicy() Policy {
	return Policy{
		Name:        "restricted-data-encryption",
		Description: "Resources holding confidential or restricted data must declare a KMS key",
		Level:       LevelHardMandatory,
		Scope:       Scope{Kinds: awsComputeKinds},
		Checks: []CheckSpec{
			{
				Type:      "requires-field",
				Field:     "spec.kms_key_id",
				WhenField: "tags.DataClassification",
				WhenIn:    []string{"confidential", "restricted"},
				Message:   "resources tagged confidential or restricted must set kms_key_id",
			},
		},
	}
}

func gpuQuotaPolicy() Policy {
	limit := 8.0
	return Policy{
		Name:        "gpu-quota",
		Description: "A single training resource may not claim more than 8 GPUs without review",
		Level:       LevelSoftMandatory,
		Scope: Scope{Kinds: []string{
			"aws_instance",
			"aws_sagemaker_notebook_instance",
			"aws_eks_node_group",
		}},
		Checks: []CheckSpec{
			{Type: "max-value", Field: "spec.gpu_count", Limit: &limit},
		},
	}
}

func productionApprovalPolicy() Policy {
	return Policy{
		Name:        "production-approval",
		Description: "Production workloads require a recorded approver",
		Level:       LevelHardMandatory,
		Scope: Scope{
			Kinds:      workloadKinds,
			Namespaces: []string{"production"},
		},
		Checks: []CheckSpec{
			{
				Type:    "required",
				Field:   "annotations.approved-by",
				Message: "production deployments require 'approved-by' annotation",
			},
		},
	}
}

func notebookInstanceTypesPolicy() Policy {
	return Policy{
		Name:        "notebook-instance-types",
		Description: "Notebook instances should use the vetted instance type list",
		Level:       LevelAdvisory,
		Scope:       Scope{Kinds: []string{"aws_sagemaker_notebook_instance"}},
		Checks: []CheckSpec{
			{
				Type:  "allowed-values",
				Field: "spec.instance_type",
				Values: []string{
					"ml.t3.medium", "ml.t3.large",
					"ml.m5.xlarge", "ml.m5.2xlarge",
					"ml.g4dn.xlarge", "ml.g5.xlarge",
				},
			},
		},
	}
}

func teamLabelPolicy() Policy {
	return Policy{
		Name:        "team-label",
		Description: "Workloads should carry a team label for ownership lookup",
		Level:       LevelAdvisory,
		Scope:       Scope{Kinds: workloadKinds},
		Checks: []CheckSpec{
			{Type: "required", Field: "labels.team"},
		},
	}
}

func replicaCeilingPolicy() Policy {
	return Policy{
		Name:        "replica-ceiling",
		Description: "Production deployments past 20 replicas deserve a capacity review",
		Level:       LevelAdvisory,
		Scope:       Scope{Kinds: []string{"Deployment"}},
		Checks: []CheckSpec{
			{
				Type:       "expression",
				Expression: `namespace != "production" or (spec.replicas ?? 0) <= 20`,
				Message:    "production deployments with more than 20 replicas need a capacity review",
			},
		},
	}
}

func privilegedContainersPolicy() Policy {
	return Policy{
		Name:        "privileged-containers",
		Description: "Pods must not run privileged containers",
		Level:       LevelHardMandatory,
		Scope:       Scope{Kinds: []string{"Pod"}},
		Checks: []CheckSpec{
			{
				Type: "rego",
				Rego: `package mlgate.policies.privileged

import rego.v1

deny contains violation if {
	some c in input.spec.containers
	c.securityContext.privileged == true
	violation := {
		"message": sprintf("container %q must not run privileged", [c.name]),
		"field": "spec.containers",
	}
}`,
			},
		},
	}
}
