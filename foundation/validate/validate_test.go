package validate_test

import (
	"testing"

	"github.com/ardanlabs/encloud/foundation/validate"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type appendRequest struct {
	CloudID string `json:"cloud_id" validate:"required,hex0x"`
	Payload string `json:"payload" validate:"required"`
}

func Test_Check(t *testing.T) {
	type table struct {
		name   string
		req    appendRequest
		fields []string
	}

	tt := []table{
		{name: "valid", req: appendRequest{CloudID: "0xab12", Payload: "x"}},
		{name: "missing", req: appendRequest{}, fields: []string{"cloud_id", "payload"}},
		{name: "nothex", req: appendRequest{CloudID: "ab12", Payload: "x"}, fields: []string{"cloud_id"}},
		{name: "badchar", req: appendRequest{CloudID: "0xzz", Payload: "x"}, fields: []string{"cloud_id"}},
	}

	t.Log("Given the need to validate request values.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen handling a %s request.", testID, tst.name)
				{
					err := validate.Check(tst.req)
					if len(tst.fields) == 0 {
						if err != nil {
							t.Fatalf("\t%s\tTest %d:\tShould pass validation: %v", failed, testID, err)
						}
						t.Logf("\t%s\tTest %d:\tShould pass validation.", success, testID)
						return
					}

					if !validate.IsFieldErrors(err) {
						t.Fatalf("\t%s\tTest %d:\tShould get field errors: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould get field errors.", success, testID)

					fields := validate.GetFieldErrors(err).Fields()
					if len(fields) != len(tst.fields) {
						t.Fatalf("\t%s\tTest %d:\tShould get %d field errors: got %v", failed, testID, len(tst.fields), fields)
					}
					for _, name := range tst.fields {
						if _, exists := fields[name]; !exists {
							t.Fatalf("\t%s\tTest %d:\tShould report field %q: got %v", failed, testID, name, fields)
						}
					}
					t.Logf("\t%s\tTest %d:\tShould report the failing fields by json name.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}

		var batch []appendRequest
		if err := validate.Check(&batch); err != nil {
			t.Fatalf("\t%s\tShould pass values that are not structs: %v", failed, err)
		}
		t.Logf("\t%s\tShould pass values that are not structs.", success)
	}
}
