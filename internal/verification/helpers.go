package verification

import (
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/gema-grader/pkg/judge0"
)

const pythonHelpers = `
# Funciones auxiliares para pruebas avanzadas
def ejecutar_tests_avanzados(func, casos_prueba, mostrar_detalle=True):
    pruebas_pasadas = 0
    total_pruebas = len(casos_prueba)

    print(f"Ejecutando {total_pruebas} pruebas:")

    for i, (entrada, esperado) in enumerate(casos_prueba, 1):
        try:
            if isinstance(entrada, tuple):
                resultado = func(*entrada)
            else:
                resultado = func(entrada)

            if resultado == esperado:
                pruebas_pasadas += 1
                if mostrar_detalle:
                    print(f"✓ CORRECTO - Prueba {i}: con entrada {entrada} se obtuvo {resultado}")
            else:
                if mostrar_detalle:
                    print(f"✗ INCORRECTO - Prueba {i}: con entrada {entrada}")
                    print(f"  Se esperaba: {esperado}")
                    print(f"  Se obtuvo: {resultado}")
        except Exception as e:
            if mostrar_detalle:
                print(f"✗ ERROR - Prueba {i}: con entrada {entrada}")
                print(f"  Error: {str(e)}")

    print(f"Resultado: {pruebas_pasadas}/{total_pruebas} pruebas pasadas")
    return pruebas_pasadas

def test(actual, expected, message=""):
    if actual == expected:
        print(f"✓ CORRECTO: {message}")
    else:
        print(f"✗ INCORRECTO: {message}")
        print(f"  Esperado: {expected}")
        print(f"  Obtenido: {actual}")
`

const javascriptHelpers = `
// Funciones auxiliares para pruebas avanzadas
function ejecutarTestsAvanzados(func, casosPrueba, mostrarDetalle = true) {
    let pruebasPasadas = 0;
    const totalPruebas = casosPrueba.length;

    console.log(` + "`Ejecutando ${totalPruebas} pruebas:`" + `);

    for (let i = 0; i < casosPrueba.length; i++) {
        try {
            const [entrada, esperado] = casosPrueba[i];
            const resultado = Array.isArray(entrada) ? func(...entrada) : func(entrada);

            if (JSON.stringify(resultado) === JSON.stringify(esperado)) {
                pruebasPasadas++;
                if (mostrarDetalle) {
                    console.log(` + "`✓ CORRECTO - Prueba ${i+1}: con entrada ${JSON.stringify(entrada)} se obtuvo ${JSON.stringify(resultado)}`" + `);
                }
            } else if (mostrarDetalle) {
                console.log(` + "`✗ INCORRECTO - Prueba ${i+1}: con entrada ${JSON.stringify(entrada)}`" + `);
                console.log(` + "`  Se esperaba: ${JSON.stringify(esperado)}`" + `);
                console.log(` + "`  Se obtuvo: ${JSON.stringify(resultado)}`" + `);
            }
        } catch (e) {
            if (mostrarDetalle) {
                console.log(` + "`✗ ERROR - Prueba ${i+1}: con entrada ${JSON.stringify(casosPrueba[i][0])}`" + `);
                console.log(` + "`  Error: ${e.message}`" + `);
            }
        }
    }

    console.log(` + "`Resultado: ${pruebasPasadas}/${totalPruebas} pruebas pasadas`" + `);
    return pruebasPasadas;
}

function test(actual, expected, message = "") {
    if (JSON.stringify(actual) === JSON.stringify(expected)) {
        console.log(` + "`✓ CORRECTO: ${message}`" + `);
        return true;
    }
    console.log(` + "`✗ INCORRECTO: ${message}`" + `);
    console.log(` + "`  Esperado: ${JSON.stringify(expected)}`" + `);
    console.log(` + "`  Obtenido: ${JSON.stringify(actual)}`" + `);
    return false;
}
`

const javaRunnerHead = `
public class TestRunner {
    public static void main(String[] args) {
        System.out.println("Ejecutando pruebas...");
        int resultadoTests = 0;
        int totalTests = 0;
`

const javaRunnerTail = `
        System.out.println("Resultado: " + resultadoTests + "/" + totalTests + " pruebas pasadas");
    }

    public static boolean test(Object actual, Object expected, String message) {
        if (actual.equals(expected)) {
            System.out.println("✓ CORRECTO: " + message);
            return true;
        }
        System.out.println("✗ INCORRECTO: " + message);
        System.out.println("  Esperado: " + expected);
        System.out.println("  Obtenido: " + actual);
        return false;
    }
}`

// WithHelpers prepends the language prelude to a harness unless the harness
// or the student code already defines a runner.
func WithHelpers(harness string, languageID int, code string) string {
	switch languageID {
	case judge0.LanguagePython:
		if definesAny(harness, code, "def ejecutar_tests_avanzados", "def test(") {
			return harness
		}
		return pythonHelpers + "\n\n" + harness
	case judge0.LanguageJavaScript:
		if definesAny(harness, code, "function ejecutarTestsAvanzados", "function test(") {
			return harness
		}
		return javascriptHelpers + "\n\n" + harness
	case judge0.LanguageJava:
		if definesAny(harness, code, "class TestRunner", "public static void main") ||
			strings.HasPrefix(strings.TrimSpace(harness), "public class") {
			return harness
		}
		return javaRunnerHead + "\n\n" + harness + "\n\n" + javaRunnerTail
	default:
		return harness
	}
}

// Compose joins student code with its harness.
func Compose(code, harness string) string {
	return code + "\n\n" + harness
}

// ResolveHarness picks the harness for a language, falling back to the
// default language and then to the first non-empty harness by key order.
func ResolveHarness(harnesses map[string]string, languageID, defaultLanguageID int) (string, bool) {
	if source := harnesses[strconv.Itoa(languageID)]; strings.TrimSpace(source) != "" {
		return source, true
	}
	if source := harnesses[strconv.Itoa(defaultLanguageID)]; strings.TrimSpace(source) != "" {
		return source, true
	}

	keys := make([]string, 0, len(harnesses))
	for key := range harnesses {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.TrimSpace(harnesses[key]) != "" {
			return harnesses[key], true
		}
	}
	return "", false
}

func definesAny(harness, code string, signatures ...string) bool {
	for _, signature := range signatures {
		if strings.Contains(harness, signature) || strings.Contains(code, signature) {
			return true
		}
	}
	return false
}
