// Package validation はリクエストや入力構造体の形式チェックを提供します。
//
// go-playground/validator v10 を日本語メッセージで包み、フィールド単位のエラーを返します。
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/ja"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	jaTranslations "github.com/go-playground/validator/v10/translations/ja"
)

// ErrTranslatorNotFound は翻訳器が取得できなかった場合に返されます。
var ErrTranslatorNotFound = errors.New("translator not found")

// Errors はフィールド名（JSON名）からメッセージへの対応です。
type Errors map[string]string

// Error は error インターフェースを実装します。
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	b, err := json.Marshal(map[string]string(e))
	if err != nil {
		return fmt.Sprintf("validation failed (failed to marshal: %v)", err)
	}
	return "validation failed: " + string(b)
}

// Fields はエラーのあるフィールド名を昇順で返します。
func (e Errors) Fields() []string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Validator は validator v10 を使った検証器です。
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New は日本語翻訳を登録した Validator を作成します。
func New() (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonFieldName)

	jaLang := ja.New()
	uni := ut.New(jaLang, jaLang)
	jaTrans, ok := uni.GetTranslator("ja")
	if !ok {
		return nil, ErrTranslatorNotFound
	}
	if err := jaTranslations.RegisterDefaultTranslations(validate, jaTrans); err != nil {
		return nil, err
	}
	if err := registerNotBlank(validate, jaTrans); err != nil {
		return nil, err
	}

	return &Validator{
		validate:   validate,
		translator: jaTrans,
	}, nil
}

// Validate は構造体を検証し、失敗時は Errors を返します。
func (v *Validator) Validate(data any) error {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(Errors, len(fieldErrs))
	for _, fe := range fieldErrs {
		// 同じフィールドで複数違反した場合は最初のメッセージを残す
		if _, exists := out[fe.Field()]; exists {
			continue
		}
		out[fe.Field()] = fe.Translate(v.translator)
	}
	return out
}

// TagNotBlank は空白文字だけの文字列を拒否するタグです。
const TagNotBlank = "notblank"

func registerNotBlank(validate *validator.Validate, trans ut.Translator) error {
	if err := validate.RegisterValidation(TagNotBlank, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return strings.TrimSpace(s) != ""
	}); err != nil {
		return err
	}

	return validate.RegisterTranslation(TagNotBlank, trans,
		func(ut ut.Translator) error {
			return ut.Add(TagNotBlank, "{0}は空白以外の文字を含む必要があります", false)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, err := ut.T(fe.Tag(), fe.Field())
			if err != nil {
				return fe.Error()
			}
			return t
		},
	)
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}
