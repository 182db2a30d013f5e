// Package logging provides a small structured-fields builder shared by every
// PAGW component, independent of which logging backend (zap, logrus) a given
// binary wires up.
package logging

import "time"

// Fields is a chainable structured-logging field map.
type Fields map[string]interface{}

func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// SubmissionID tags the field set with the submission under processing —
// the identifier most PAGW log lines are keyed on.
func (f Fields) SubmissionID(id string) Fields {
	if id != "" {
		f["submission_id"] = id
	}
	return f
}

func (f Fields) Tenant(tenant string) Fields {
	if tenant != "" {
		f["tenant"] = tenant
	}
	return f
}

func (f Fields) Stage(stage string) Fields {
	if stage != "" {
		f["stage"] = stage
	}
	return f
}

// ToLogrus returns fields as a plain map, the shape logrus.WithFields wants.
func (f Fields) ToLogrus() map[string]interface{} {
	return map[string]interface{}(f)
}

// Preset constructors for common call sites.

func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// StageFields tags a stage-worker-runtime log line with its pipeline stage
// and the submission it is acting on.
func StageFields(stage, submissionID string) Fields {
	return NewFields().Component("stage").Operation(stage).Resource("submission", submissionID)
}

func PayerFields(payerID, endpoint string) Fields {
	return NewFields().Component("payer").Resource("payer", payerID).URL(endpoint)
}

func ObjectStoreFields(operation, bucket, key string) Fields {
	return NewFields().Component("object_store").Operation(operation).Resource("object", bucket+"/"+key)
}

func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Custom("subject", subject)
}

func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(duration).Custom("success", success)
}
